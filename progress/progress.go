// Package progress contains importer.ProgressListener implementations.
package progress

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/huangjunwen/scaling/importer"
	"github.com/huangjunwen/scaling/zlog"
)

var (
	// DefaultSubjectPrefix is the default subject prefix of NatsPublisher.
	DefaultSubjectPrefix = "scaling.progress"
)

var (
	subjectPrefixRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)
)

// Counter accumulates progress. It is safe for concurrent use.
type Counter struct {
	insertedRows atomic.Int64
	deletedRows  atomic.Int64
}

// Listeners broadcasts progress to all listeners.
type Listeners []importer.ProgressListener

// Publisher is the subset of *nats.Conn used.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the payload published by NatsPublisher.
type Message struct {
	JobID             string `json:"jobId"`
	Task              string `json:"task"`
	InsertedRows      int    `json:"insertedRows"`
	DeletedRows       int    `json:"deletedRows"`
	TotalInsertedRows int64  `json:"totalInsertedRows"`
	TotalDeletedRows  int64  `json:"totalDeletedRows"`
}

// NatsPublisher publishes progress of a task to "<prefix>.<jobID>".
type NatsPublisher struct {
	logger        zerolog.Logger
	subjectPrefix string

	pub     Publisher
	jobID   string
	task    string
	counter Counter
}

// NatsPublisherOption is option in creating NatsPublisher.
type NatsPublisherOption func(*NatsPublisher) error

var (
	_ importer.ProgressListener = (*Counter)(nil)
	_ importer.ProgressListener = Listeners(nil)
	_ importer.ProgressListener = (*NatsPublisher)(nil)
	_ Publisher                 = (*nats.Conn)(nil)
)

// OnProgressUpdated implements importer.ProgressListener interface.
func (c *Counter) OnProgressUpdated(p importer.Progress) {
	c.insertedRows.Add(int64(p.InsertedRows))
	c.deletedRows.Add(int64(p.DeletedRows))
}

// InsertedRows returns total inserted rows.
func (c *Counter) InsertedRows() int64 {
	return c.insertedRows.Load()
}

// DeletedRows returns total deleted rows.
func (c *Counter) DeletedRows() int64 {
	return c.deletedRows.Load()
}

// OnProgressUpdated implements importer.ProgressListener interface.
func (ls Listeners) OnProgressUpdated(p importer.Progress) {
	for _, l := range ls {
		l.OnProgressUpdated(p)
	}
}

// NewNatsPublisher creates a NatsPublisher. pub is usually a *nats.Conn.
func NewNatsPublisher(pub Publisher, jobID, task string, opts ...NatsPublisherOption) (*NatsPublisher, error) {
	p := &NatsPublisher{
		subjectPrefix: DefaultSubjectPrefix,
		pub:           pub,
		jobID:         jobID,
		task:          task,
	}
	NatsPublisherOptLogger(&zlog.DefaultZLogger)(p)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NatsPublisherOptLogger sets structured logger.
func NatsPublisherOptLogger(logger *zerolog.Logger) NatsPublisherOption {
	return func(p *NatsPublisher) error {
		if logger == nil {
			p.logger = zerolog.Nop()
			return nil
		}
		p.logger = logger.With().Str("component", "scaling.progress.NatsPublisher").Logger()
		return nil
	}
}

// NatsPublisherOptSubjectPrefix sets subject prefix.
func NatsPublisherOptSubjectPrefix(subjectPrefix string) NatsPublisherOption {
	return func(p *NatsPublisher) error {
		if !subjectPrefixRegexp.MatchString(subjectPrefix) {
			return fmt.Errorf("NatsPublisherOptSubjectPrefix got invalid subject prefix %q", subjectPrefix)
		}
		p.subjectPrefix = subjectPrefix
		return nil
	}
}

// Subject returns the subject to publish.
func (p *NatsPublisher) Subject() string {
	return p.subjectPrefix + "." + p.jobID
}

// OnProgressUpdated implements importer.ProgressListener interface. Publishing errors are
// logged only.
func (p *NatsPublisher) OnProgressUpdated(progress importer.Progress) {
	p.counter.OnProgressUpdated(progress)
	data, err := json.Marshal(&Message{
		JobID:             p.jobID,
		Task:              p.task,
		InsertedRows:      progress.InsertedRows,
		DeletedRows:       progress.DeletedRows,
		TotalInsertedRows: p.counter.InsertedRows(),
		TotalDeletedRows:  p.counter.DeletedRows(),
	})
	if err != nil {
		panic(err)
	}
	if err := p.pub.Publish(p.Subject(), data); err != nil {
		p.logger.Warn().Err(err).Str("subject", p.Subject()).Msg("publish progress error")
	}
}
