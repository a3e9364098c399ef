// File: message/status.go
// License: Apache-2.0

package message

import "strconv"

// Status is an HTTP status code.
type Status int

const (
	StatusContinue           Status = 100
	StatusSwitchingProtocols Status = 101

	StatusOK        Status = 200
	StatusCreated   Status = 201
	StatusAccepted  Status = 202
	StatusNoContent Status = 204

	StatusMovedPermanently Status = 301
	StatusFound            Status = 302
	StatusNotModified      Status = 304

	StatusBadRequest           Status = 400
	StatusUnauthorized         Status = 401
	StatusForbidden            Status = 403
	StatusNotFound             Status = 404
	StatusMethodNotAllowed     Status = 405
	StatusNotAcceptable        Status = 406
	StatusRequestTimeout       Status = 408
	StatusPayloadTooLarge      Status = 413
	StatusUnsupportedMediaType Status = 415
	StatusUpgradeRequired      Status = 426

	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusBadGateway          Status = 502
	StatusServiceUnavailable  Status = 503
)

var reasons = map[Status]string{
	StatusContinue:             "Continue",
	StatusSwitchingProtocols:   "Switching Protocols",
	StatusOK:                   "OK",
	StatusCreated:              "Created",
	StatusAccepted:             "Accepted",
	StatusNoContent:            "No Content",
	StatusMovedPermanently:     "Moved Permanently",
	StatusFound:                "Found",
	StatusNotModified:          "Not Modified",
	StatusBadRequest:           "Bad Request",
	StatusUnauthorized:         "Unauthorized",
	StatusForbidden:            "Forbidden",
	StatusNotFound:             "Not Found",
	StatusMethodNotAllowed:     "Method Not Allowed",
	StatusNotAcceptable:        "Not Acceptable",
	StatusRequestTimeout:       "Request Timeout",
	StatusPayloadTooLarge:      "Payload Too Large",
	StatusUnsupportedMediaType: "Unsupported Media Type",
	StatusUpgradeRequired:      "Upgrade Required",
	StatusInternalServerError:  "Internal Server Error",
	StatusNotImplemented:       "Not Implemented",
	StatusBadGateway:           "Bad Gateway",
	StatusServiceUnavailable:   "Service Unavailable",
}

// Reason returns the standard reason phrase.
func (s Status) Reason() string {
	if r, ok := reasons[s]; ok {
		return r
	}
	return "Status " + strconv.Itoa(int(s))
}

// HasBody reports whether a response with this status may carry a body.
func (s Status) HasBody() bool {
	return !(s >= 100 && s < 200) && s != StatusNoContent && s != StatusNotModified
}

func (s Status) String() string { return strconv.Itoa(int(s)) + " " + s.Reason() }
