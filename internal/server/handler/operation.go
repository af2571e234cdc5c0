package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/alanyoungcy/cascade/internal/codec"
	"github.com/alanyoungcy/cascade/internal/domain"
)

// decodeOperation parses a {"type": ...} envelope. Field rules are the
// ledger's, so its error kinds reach the caller unchanged.
func decodeOperation(r *http.Request) (domain.Operation, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err)
	}
	return codec.DecodeOperation(body)
}
