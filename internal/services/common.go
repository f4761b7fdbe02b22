package services

import (
	"errors"

	"github.com/dawos/agent/internal/utils"
)

// wrapOp stamps op onto errors from lower layers, keeping their code.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		return utils.E(ae.Code, op, ae.Message, ae.Err)
	}
	return utils.E(utils.CodeInternal, op, "unexpected error", err)
}
