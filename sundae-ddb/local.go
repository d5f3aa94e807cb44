package sundaeddb

import (
	"net"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// LocalEndpoint is where DynamoDB local listens by default.
const LocalEndpoint = "http://localhost:8000"

// LocalAPI returns a client for a DynamoDB local instance, with throwaway credentials.
func LocalAPI(endpoint string) dynamodbiface.DynamoDBAPI {
	s := session.Must(session.NewSession(aws.NewConfig().
		WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
		WithEndpoint(endpoint).
		WithRegion("us-west-2")))
	return dynamodb.New(s)
}

// LocalAvailable reports whether something is listening on endpoint.
func LocalAvailable(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", u.Host, 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
