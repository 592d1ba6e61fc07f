package runtime

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Result describes the outcome of one operation. Request and Response hold
// the raw frames as space separated hex.
type Result struct {
	IsSucceed    bool          `json:"isSucceed"`
	Err          string        `json:"err,omitempty"`
	ErrCode      int           `json:"errCode,omitempty"`
	Exception    error         `json:"-"`
	ErrList      []string      `json:"errList,omitempty"`
	Request      string        `json:"request,omitempty"`
	Response     string        `json:"response,omitempty"`
	IntegrityErr error         `json:"-"`
	StartTime    time.Time     `json:"startTime"`
	Elapsed      time.Duration `json:"elapsed"`
}

func NewResult() *Result {
	return &Result{IsSucceed: true, StartTime: time.Now()}
}

func (r *Result) Fail(err error) *Result {
	r.IsSucceed = false
	r.Exception = err
	r.Err = err.Error()
	r.ErrCode = errorCode(err)
	r.ErrList = append(r.ErrList, r.Err)
	return r
}

// SetErrInfo copies the failure and the frames of another result.
func (r *Result) SetErrInfo(o *Result) *Result {
	r.IsSucceed = o.IsSucceed
	r.Err = o.Err
	r.ErrCode = o.ErrCode
	r.Exception = o.Exception
	r.IntegrityErr = o.IntegrityErr
	r.Request = o.Request
	r.Response = o.Response
	if o.Err != "" {
		r.ErrList = append(r.ErrList, o.Err)
	}
	return r
}

func (r *Result) EndTime() *Result {
	r.Elapsed = time.Since(r.StartTime)
	return r
}

type ValueResult[T any] struct {
	Result
	Value T `json:"value"`
}

func NewValueResult[T any]() *ValueResult[T] {
	return &ValueResult[T]{Result: Result{IsSucceed: true, StartTime: time.Now()}}
}

func (r *ValueResult[T]) Fail(err error) *ValueResult[T] {
	r.Result.Fail(err)
	return r
}

func (r *ValueResult[T]) EndTime() *ValueResult[T] {
	r.Result.EndTime()
	return r
}

// Carry starts a result of another value type with the status of from.
func Carry[T, U any](from *ValueResult[U]) *ValueResult[T] {
	r := NewValueResult[T]()
	r.StartTime = from.StartTime
	r.SetErrInfo(&from.Result)
	r.ErrList = append([]string(nil), from.ErrList...)
	return r
}

func errorCode(err error) int {
	var ex *ExceptionError
	if errors.As(err, &ex) {
		return int(ex.Code)
	}
	if errors.Is(err, ErrTimeout) {
		return ErrCodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrCodeTimeout
	}
	return 0
}
