package sundaegql

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat matches the timestamps assigned by the message log.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

type Timestamp time.Time

func (Timestamp) ImplementsGraphQLType(name string) bool {
	return name == "Timestamp"
}

// UnmarshalGraphQL accepts RFC 3339 strings of any precision.
func (t *Timestamp) UnmarshalGraphQL(input interface{}) error {
	s, ok := input.(string)
	if !ok {
		return fmt.Errorf("unable to parse timestamp %v", input)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("unable to parse timestamp %v: %w", s, err)
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(TimestampFormat))
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
