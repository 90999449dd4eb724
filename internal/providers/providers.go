package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrDetectionService matches every failure talking to an upstream model.
var ErrDetectionService = errors.New("detection service error")

// Config represents one vision request to an LLM provider
type Config struct {
	Model       string
	Temperature float64
	TopP        float64
	Prompt      string
	Image       []byte
	MIMEType    string
}

// Provider defines the interface for a vision-capable LLM provider
type Provider interface {
	Name() string
	Generate(ctx context.Context, config Config) (string, error)
}

// ServiceError reports an upstream failure. Status is zero when the request
// never produced an HTTP response.
type ServiceError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream returned status %d: %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDetectionService) hold for any ServiceError.
func (e *ServiceError) Is(target error) bool {
	return target == ErrDetectionService
}
