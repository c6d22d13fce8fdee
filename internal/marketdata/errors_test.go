package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, ErrorKindInvalidCredentials},
		{403, ErrorKindInvalidCredentials},
		{429, ErrorKindRateLimited},
		{500, ErrorKindServerError},
		{503, ErrorKindServerError},
		{404, ErrorKindUnknown},
	}

	for _, tc := range cases {
		apiErr := ClassifyStatus("test", tc.status, nil)
		if apiErr.Kind != tc.want {
			t.Fatalf("状态码 %d 期望 %s, 实际 %s", tc.status, tc.want, apiErr.Kind)
		}
		if apiErr.StatusCode != tc.status {
			t.Fatalf("StatusCode 应保留: %d", apiErr.StatusCode)
		}
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := NewAPIError(ErrorKindRateLimited, "finnhub", errors.New("too many"))
	wrapped := fmt.Errorf("fetch: %w", orig)

	got := Classify("other", wrapped)
	if got != orig {
		t.Fatal("已分类的错误应原样透传")
	}
}

func TestClassifyWireErrors(t *testing.T) {
	if got := Classify("p", context.DeadlineExceeded); got.Kind != ErrorKindNetworkTransient {
		t.Fatalf("超时应归为 network_transient, 实际 %s", got.Kind)
	}

	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("refused")}
	if got := Classify("p", netErr); got.Kind != ErrorKindNetworkTransient {
		t.Fatalf("网络错误应归为 network_transient, 实际 %s", got.Kind)
	}

	var syntax *json.SyntaxError
	if err := json.Unmarshal([]byte("{not json"), &struct{}{}); !errors.As(err, &syntax) {
		t.Fatal("应产生 json.SyntaxError")
	} else if got := Classify("p", err); got.Kind != ErrorKindMalformedResponse {
		t.Fatalf("解析错误应归为 malformed_response, 实际 %s", got.Kind)
	}

	if got := Classify("p", errors.New("boom")); got.Kind != ErrorKindUnknown {
		t.Fatalf("未知错误应归为 unknown, 实际 %s", got.Kind)
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		ErrorKindNetworkTransient:   true,
		ErrorKindRateLimited:        true,
		ErrorKindServerError:        true,
		ErrorKindInvalidCredentials: false,
		ErrorKindMalformedResponse:  false,
		ErrorKindUnknown:            false,
	}
	for kind, want := range retryable {
		if kind.Retryable() != want {
			t.Fatalf("%s Retryable 应为 %v", kind, want)
		}
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	apiErr := &APIError{Kind: ErrorKindServerError, Provider: "twse", StatusCode: 502, Err: inner}
	if !errors.Is(apiErr, inner) {
		t.Fatal("Unwrap 应暴露内部错误")
	}
	if apiErr.Error() == "" {
		t.Fatal("Error 字符串不应为空")
	}
}
