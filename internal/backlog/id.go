package backlog

import "github.com/google/uuid"

// IDProvider issues game ids for custom games.
type IDProvider interface {
	NewID() (string, error)
}

type customGameIDProvider struct{}

// NewCustomGameIDProvider constructs an IDProvider that issues "custom-<uuid4>" identifiers.
func NewCustomGameIDProvider() IDProvider {
	return &customGameIDProvider{}
}

func (p *customGameIDProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return CustomGameIDPrefix + value.String(), nil
}
