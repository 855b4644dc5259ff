package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/service"
)

const uploadField = "file"

// multipartOverhead leaves room for form boundaries and extra fields.
const multipartOverhead = 1 << 20

// readUpload reads the multipart "file" field, enforcing maxBytes.
func readUpload(c *gin.Context, maxBytes int64) (service.Payload, error) {
	const op = "upload"
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
	}

	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.Payload{}, domain.Errorf(domain.KindPayloadRejected, op, "upload exceeds %d bytes", maxBytes)
		}
		return service.Payload{}, domain.Errorf(domain.KindInvalidRequest, op, "multipart field %q is required", uploadField)
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return service.Payload{}, domain.Errorf(domain.KindPayloadRejected, op,
			"upload of %d bytes exceeds limit of %d bytes", header.Size, maxBytes)
	}

	f, err := header.Open()
	if err != nil {
		return service.Payload{}, domain.E(domain.KindInvalidRequest, op, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return service.Payload{}, domain.E(domain.KindInvalidRequest, op, err)
	}
	return service.Payload{Data: data, Filename: header.Filename}, nil
}
