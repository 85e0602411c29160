package imaging

import (
	"context"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"

	"poletrack/internal/errcode"
)

// Scanner 在参考图落盘前检查内容。
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

// ClamdScanner 通过 clamd INSTREAM 扫描上传内容。
type ClamdScanner struct {
	addr string
}

func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{addr: addr}
}

// Scan 命中病毒时返回校验错误；clamd 不可用时返回存储错误。
func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamd.NewClamd(s.addr).ScanStream(r, abortChan)
	if err != nil {
		return errcode.Storage("failed to scan file", err)
	}

	var verdict error
	for result := range scanChan {
		if verdict != nil {
			continue
		}
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			verdict = errcode.Validation("malicious file detected")
		default:
			verdict = errcode.Storage("failed to scan file", fmt.Errorf("clamd %s: %s", result.Status, result.Description))
		}
	}
	return verdict
}
