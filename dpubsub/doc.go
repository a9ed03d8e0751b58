// Package dpubsub contains types for in-application
// publish-subscribe patterns.
//
// The [Stream] type specifically simplifies the pattern of
// a single publisher with many concurrent subscribers,
// who all need to observe the same sequence of values.
// It is the shared buffer behind [dflow.SubmissionPublisher]:
// each subscription holds its own cursor into the stream,
// so one subscriber reading a value never hides it from another.
//
// [dflow.SubmissionPublisher]: https://pkg.go.dev/github.com/gordian-engine/dflow#SubmissionPublisher
package dpubsub
