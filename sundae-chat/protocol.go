package sundaechat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	ActionSendMessage = "sendMessage"
	ActionMessage     = "message"
	ActionWelcome     = "welcome"
	ActionError       = "error"
)

const welcomeText = "Connected to chat server"

var validate = validator.New()

// Inbound is the payload a client sends on the default route.
type Inbound struct {
	Action  string `json:"action"  validate:"required,eq=sendMessage"`
	Room    string `json:"room"    validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// Validate checks the required fields of an inbound message.
func (in Inbound) Validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %v", ErrInvalidMessage, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ParseInbound decodes and validates an inbound message body.
func ParseInbound(body string) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: malformed json: %v", ErrInvalidMessage, err)
	}
	if err := in.Validate(); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

// Outbound is the envelope delivered to every member of a room.
type Outbound struct {
	Action    string `json:"action"`
	Room      string `json:"room"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Welcome is pushed to a client right after it connects.
type Welcome struct {
	Action       string `json:"action"`
	Message      string `json:"message"`
	ConnectionID string `json:"connection_id"`
	Room         string `json:"room"`
	UserID       string `json:"user_id"`
}

// Error is pushed to the sender when its message could not be handled.
type Error struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func WelcomeMessage(connectionID, room, userID string) []byte {
	b, _ := json.Marshal(Welcome{
		Action:       ActionWelcome,
		Message:      welcomeText,
		ConnectionID: connectionID,
		Room:         room,
		UserID:       userID,
	})
	return b
}

func ErrorMessage(msg string) []byte {
	b, _ := json.Marshal(Error{Action: ActionError, Message: msg})
	return b
}
