package types

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 校验上传请求
func (r WorkflowRequest) Validate() error {
	if err := getValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fe.Field()+":"+fe.Tag())
			}
			return NewInvalidRequest("invalid workflow request: %s", strings.Join(parts, ","))
		}
		return NewInvalidRequest("invalid workflow request: %v", err)
	}
	if !r.Platform.Valid() {
		return NewInvalidRequest("unsupported platform %d", int(r.Platform))
	}
	if !filepath.IsAbs(r.VideoPath) {
		return NewInvalidRequest("video path must be absolute: %s", r.VideoPath)
	}
	return nil
}
