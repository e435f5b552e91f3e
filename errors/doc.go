// Package errors provides structured error types for the whistler host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Kind is the failure taxonomy callers branch on: a processing run
// fails with exactly one of KindNotReady, KindNoInput, KindAlreadyProcessing,
// KindAllocation, KindInvocation or KindInvalidOutputLength, and loading input
// fails with KindDecode.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindInvocation).
//		Value(ptr).
//		Detail("process_audio returned a null address").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(errors.PhaseStage, size, nil)
//	err := errors.InvalidOutputLength(n, limit)
//
// Branch on the kind with IsKind, and render it with Message:
//
//	if errors.IsKind(err, errors.KindNoInput) {
//		fmt.Println(errors.Message(errors.KindNoInput))
//	}
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
