package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hyunwoolee/gemini-relay/internal/config"
	"github.com/hyunwoolee/gemini-relay/internal/model/genai"
	"github.com/hyunwoolee/gemini-relay/internal/service/keypool"
)

// Error is a terminal generation failure, surfaced to the caller in-band.
type Error struct {
	Message  string
	Details  string
	Status   int
	Attempts int
	Timeout  bool
}

func (e *Error) Error() string {
	return e.Message
}

// Service runs the bounded retry loop around the dispatcher, rotating keys
// between attempts.
type Service struct {
	dispatcher Dispatcher
	pool       *keypool.Pool
	counter    *keypool.Counter
	maxRetries int
	retryDelay time.Duration
}

// NewService wires the retry loop. counter may be nil; the first attempt
// then uses a random pool pick.
func NewService(dispatcher Dispatcher, pool *keypool.Pool, counter *keypool.Counter, cfg config.UpstreamConfig) *Service {
	return &Service{
		dispatcher: dispatcher,
		pool:       pool,
		counter:    counter,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Generate performs up to maxRetries dispatch attempts, excluding keys that
// already failed. It returns the decoded upstream response, or a *Error
// describing the terminal failure.
func (s *Service) Generate(ctx context.Context, model string, contents []genai.Content, genCfg map[string]any, progress ProgressFunc) (*genai.GenerateResponse, error) {
	key := s.firstKey()
	used := make(map[string]struct{})

	lastStatus := 0
	lastMessage := ""

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		log.Printf("[upstream] attempt #%d model=%s key=%s", attempt, model, keypool.Preview(key))

		result := s.dispatcher.Dispatch(ctx, model, contents, genCfg, key, progress)

		if result.TransportErr != nil {
			used[key] = struct{}{}
			lastStatus = 0
			lastMessage = result.TransportErr.Error()
			log.Printf("[upstream] transport error on attempt #%d: %v", attempt, result.TransportErr)

			if attempt < s.maxRetries-1 {
				if err := s.wait(ctx); err != nil {
					return nil, err
				}
				key = s.pool.PickAlternative(used)
				continue
			}

			if transportTimedOut(result.TransportErr) {
				return nil, &Error{
					Message:  fmt.Sprintf("Upstream request timed out. Please try again shortly. (%d attempts failed)", attempt+1),
					Attempts: attempt + 1,
					Timeout:  true,
				}
			}
			return nil, &Error{
				Message:  fmt.Sprintf("Upstream connection failed: %v (%d attempts failed)", result.TransportErr, attempt+1),
				Attempts: attempt + 1,
			}
		}

		if result.HTTPStatus != http.StatusOK {
			message, details := parseAPIError(result.Payload)
			log.Printf("[upstream] error on attempt #%d [%d]: %s", attempt, result.HTTPStatus, message)

			if IsRetryable(false, result.HTTPStatus, message) && attempt < s.maxRetries-1 {
				used[key] = struct{}{}
				lastStatus = result.HTTPStatus
				lastMessage = message

				if err := s.wait(ctx); err != nil {
					return nil, err
				}
				key = s.pool.PickAlternative(used)
				continue
			}

			return nil, &Error{
				Message:  fmt.Sprintf("Upstream error (%d): %s", result.HTTPStatus, message),
				Details:  details,
				Status:   result.HTTPStatus,
				Attempts: attempt + 1,
			}
		}

		var resp genai.GenerateResponse
		if err := json.Unmarshal(result.Payload, &resp); err != nil {
			log.Printf("[upstream] malformed response on attempt #%d: %v", attempt, err)

			if attempt < s.maxRetries-1 {
				used[key] = struct{}{}
				lastStatus = result.HTTPStatus
				lastMessage = err.Error()

				if werr := s.wait(ctx); werr != nil {
					return nil, werr
				}
				key = s.pool.PickAlternative(used)
				continue
			}

			return nil, &Error{
				Message:  fmt.Sprintf("Malformed upstream response. (%d attempts failed)", attempt+1),
				Attempts: attempt + 1,
			}
		}

		if attempt > 0 {
			log.Printf("[upstream] succeeded after %d retries", attempt)
		}
		return &resp, nil
	}

	return nil, &Error{
		Message:  fmt.Sprintf("All retries failed (%d): %s", lastStatus, lastMessage),
		Status:   lastStatus,
		Attempts: s.maxRetries,
	}
}

// firstKey seeds attempt 0. Sequential selection degrades to random when
// the counter file is unusable rather than failing the request.
func (s *Service) firstKey() string {
	if s.counter != nil {
		key, err := s.counter.Next()
		if err == nil {
			return key
		}
		log.Printf("[upstream] sequential key selection failed, falling back to random: %v", err)
	}
	return s.pool.PickRandom()
}

// wait pauses between attempts without blocking other requests.
func (s *Service) wait(ctx context.Context) error {
	if s.retryDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseAPIError pulls the message and details out of a non-200 payload,
// falling back to a generic message when the body is not the standard
// error envelope.
func parseAPIError(payload []byte) (message, details string) {
	message = "Unknown error"

	var apiErr genai.APIError
	if err := json.Unmarshal(payload, &apiErr); err != nil {
		return message, ""
	}

	if apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	if apiErr.Error.Details != nil {
		if raw, err := json.Marshal(apiErr.Error.Details); err == nil {
			details = string(raw)
		}
	}
	return message, details
}
