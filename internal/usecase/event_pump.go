package usecase

import "context"

// Run applies speech service events one at a time until the service closes
// its channel or ctx is done.
func (s *WakeSession) Run(ctx context.Context) error {
	events := s.speech.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleEvent(event)
		}
	}
}
