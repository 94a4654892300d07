// Package retry calls a function with exponential backoff until it succeeds.
//
// It is used at process start, where the broker may come up after the filter
// stage. The stage itself never retries a forward: a failed delivery is terminal.
//
//	err := retry.Do(ctx, retry.Startup(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Errors are classified with the errors package. Invalid and fatal errors
// end the loop at once; anything else is retried.
package retry
