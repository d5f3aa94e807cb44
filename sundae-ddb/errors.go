package sundaeddb

import (
	"errors"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

// IsConditionalCheckFailed reports whether err is a failed ConditionExpression, either from a
// single item write or from any item of a cancelled transaction.
func IsConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeConditionalCheckFailedException:
		return true
	case dynamodb.ErrCodeTransactionCanceledException:
		var canceled *dynamodb.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason != nil && reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return true
				}
			}
			return false
		}
		// some clients (e.g. DAX) only surface the reasons in the message
		return true
	}
	return false
}
