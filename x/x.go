// Package x stores utility functions and the shared row and document
// model, mostly for internal usage.
package x

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Status stores any error codes returned along with the error message; and
// is converted to JSON and written out on request failures.
type Status struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error constants.
const (
	E_ERROR            = "E_ERROR"
	E_INVALID_REQUEST  = "E_INVALID_REQUEST"
	E_MISSING_REQUIRED = "E_MISSING_REQUIRED"
	E_NOT_FOUND        = "E_NOT_FOUND"
	E_OK               = "E_OK"
)

// Log returns a logrus.Entry with a package field set.
func Log(p string) *logrus.Entry {
	l := logrus.WithFields(logrus.Fields{
		"package": p,
	})
	return l
}

// LogErr returns a logrus.Entry with an error field set.
func LogErr(entry *logrus.Entry, err error) *logrus.Entry {
	return entry.WithFields(logrus.Fields{
		"error": err.Error(),
	})
}

// SetLogLevel switches the process-wide log level. Anything other than
// "debug" keeps the default info level.
func SetLogLevel(level string) {
	if strings.EqualFold(level, "debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// SetStatus creates, converts to JSON, and writes a Status object
// to http.ResponseWriter.
func SetStatus(w http.ResponseWriter, code, msg string) {
	r := &Status{Code: code, Message: msg}
	if js, err := json.Marshal(r); err == nil {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, string(js))
	} else {
		panic(fmt.Sprintf("Unable to marshal: %+v", r))
	}
}

// SetStatusCode does what SetStatus does, after writing the provided
// HTTP status code to the header.
func SetStatusCode(w http.ResponseWriter, httpCode int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	SetStatus(w, code, msg)
}

// ParseRequest parses a JSON based POST or PUT request into the provided
// Golang interface.
func ParseRequest(w http.ResponseWriter, r *http.Request, data interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&data); err != nil {
		SetStatusCode(w, http.StatusBadRequest, E_INVALID_REQUEST,
			fmt.Sprintf("While parsing request: %v", err))
		return false
	}
	return true
}

// Reply would JSON marshal the provided rep Go interface object, and
// write that to http.ResponseWriter. In case of error, call SetStatus
// with the error.
func Reply(w http.ResponseWriter, rep interface{}) {
	if js, err := json.Marshal(rep); err == nil {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, string(js))
	} else {
		SetStatus(w, E_ERROR, err.Error())
	}
}

// KeyString renders a row identifier or document key in the canonical string
// form search backends use for document ids. JSON decoding hands us numbers
// as float64, so integral floats print without a fraction or exponent.
func KeyString(key interface{}) string {
	switch k := key.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return strconv.FormatInt(int64(k), 10)
		}
		return strconv.FormatFloat(k, 'f', -1, 64)
	case float32:
		return KeyString(float64(k))
	case int:
		return strconv.Itoa(k)
	case int32:
		return strconv.FormatInt(int64(k), 10)
	case int64:
		return strconv.FormatInt(k, 10)
	case uint64:
		return strconv.FormatUint(k, 10)
	case bool:
		return strconv.FormatBool(k)
	default:
		return fmt.Sprint(k)
	}
}

// StripTags removes anything that looks like an HTML or XML tag from s,
// keeping the text in between. Entities are left alone.
func StripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
			}
		case r == '<':
			inTag = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
