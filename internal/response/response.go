// Package response models the fixed HTTP/1.1-shaped replies written to clients.
package response

import (
	"fmt"
	"io"
	"strconv"
)

// Status enumerates the statuses this server produces.
type Status int

// Supported statuses.
const (
	OK Status = iota
	NotFound
	BadRequest
	InternalServerError
)

// String returns the status line text, e.g. "200 OK".
func (s Status) String() string {
	switch s {
	case OK:
		return "200 OK"
	case NotFound:
		return "404 NOT FOUND"
	case BadRequest:
		return "400 BAD REQUEST"
	case InternalServerError:
		return "500 INTERNAL SERVER ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Code returns the numeric HTTP status code.
func (s Status) Code() int {
	switch s {
	case OK:
		return 200
	case NotFound:
		return 404
	case BadRequest:
		return 400
	case InternalServerError:
		return 500
	default:
		return 0
	}
}

// Response is an immutable status and body pair.
type Response struct {
	status Status
	body   []byte
}

// New builds a Response. The body is copied so later caller mutations are not observed.
func New(status Status, body []byte) Response {
	return Response{status: status, body: append([]byte(nil), body...)}
}

// Status reports the response status.
func (r Response) Status() Status {
	return r.status
}

// Body returns a copy of the response body.
func (r Response) Body() []byte {
	return append([]byte(nil), r.body...)
}

// Bytes serializes the response:
//
//	HTTP/1.1 <status>\r\nContent-Length: <n>\r\n\r\n<body>
func (r Response) Bytes() []byte {
	buf := make([]byte, 0, 64+len(r.body))
	buf = append(buf, "HTTP/1.1 "...)
	buf = append(buf, r.status.String()...)
	buf = append(buf, "\r\nContent-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(r.body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, r.body...)
	return buf
}

// WriteTo writes the serialized response to w in a single call.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("write response: %w", err)
	}
	return int64(n), nil
}
