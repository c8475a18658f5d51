package fetcher

import "context"

// Attempt performs one request.
type Attempt func(ctx context.Context) Outcome

// Retry runs attempt once and then up to maxRetries more times while the
// outcome is transient. It returns the last outcome and the number of
// attempts made. A done context stops further attempts; the last outcome is
// returned as is, or a canceled outcome when nothing ran.
func Retry(ctx context.Context, maxRetries int, attempt Attempt) (Outcome, int) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var (
		last  Outcome
		count int
	)
	for count <= maxRetries {
		if ctx.Err() != nil {
			if count == 0 {
				return FromError(ctx.Err()), 0
			}
			break
		}
		last = attempt(ctx)
		count++
		if !last.Transient() {
			break
		}
	}
	return last, count
}
