package publish

import (
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

// JSONWriter writes one JSON object per line for every reading and state change.
type JSONWriter struct {
	lock    sync.Mutex
	w       io.Writer
	options protojson.MarshalOptions
	err     error
}

// NewJSONWriter returns a JSONWriter writing to w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// Record is a scan.Subscriber. Writing stops after the first error; see Err.
func (j *JSONWriter) Record(u scan.Update) {
	var payload *structpb.Struct
	switch {
	case u.Reading != nil:
		payload = u.Reading.Struct()
	case u.Warning != nil:
		payload = &structpb.Struct{Fields: map[string]*structpb.Value{
			"warning": structpb.NewStringValue(u.Warning.Error()),
		}}
	default:
		payload = &structpb.Struct{Fields: map[string]*structpb.Value{
			"state": structpb.NewStringValue(u.State.String()),
		}}
		if u.Err != nil {
			payload.Fields["error"] = structpb.NewStringValue(u.Err.Error())
		}
	}

	j.lock.Lock()
	defer j.lock.Unlock()
	if j.err != nil {
		return
	}
	line, err := j.options.Marshal(payload)
	if err != nil {
		j.err = err
		return
	}
	line = append(line, '\n')
	_, j.err = j.w.Write(line)
}

// Err returns the first error encountered while writing.
func (j *JSONWriter) Err() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.err
}
