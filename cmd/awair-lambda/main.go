// Command awair-lambda is the scheduled updater binary for AWS Lambda.
package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/runsascoded/awair/internal/updater"
)

func main() {
	lambda.Start(updater.Handler)
}
