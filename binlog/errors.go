package binlog

import (
	"fmt"

	"github.com/siddontang/go-mysql/mysql"
)

// ProtocolError is returned when the byte stream violates the replication protocol. It is
// fatal: the connection must be torn down and resumed from the last durable position.
type ProtocolError struct {
	Msg string

	// Err is the underlying parse error, can be nil.
	Err error
}

// Error implements error interface.
func (err *ProtocolError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("scaling.binlog: protocol error: %s: %s", err.Msg, err.Err.Error())
	}
	return fmt.Sprintf("scaling.binlog: protocol error: %s", err.Msg)
}

// Unwrap returns the underlying error.
func (err *ProtocolError) Unwrap() error {
	return err.Err
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Msg: fmt.Sprintf(format, args...),
	}
}

// ServerError is an ERR packet sent by the server during dump, e.g. the requested binlog
// file has been purged. It is fatal.
type ServerError = mysql.MyError
