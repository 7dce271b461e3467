package subscriber

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/troophub/internal/model"
)

// maxFrameSize は1フレームとして受け付ける最大バイト数。
const maxFrameSize = 1 << 20

// eventReader はtext/event-streamからdataフィールドを読み取り、FeedEventに復号する。
// event、id、retryフィールドとコメント行は無視する。
type eventReader struct {
	sc *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &eventReader{sc: sc}
}

// Next は次のイベントを返す。ストリームが終端に達した場合はio.EOFを返す。
func (er *eventReader) Next() (model.FeedEvent, error) {
	var data bytes.Buffer
	for er.sc.Scan() {
		line := strings.TrimSuffix(er.sc.Text(), "\r")

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var ev model.FeedEvent
			if err := json.Unmarshal(data.Bytes(), &ev); err != nil {
				return model.FeedEvent{}, fmt.Errorf("failed to decode feed event: %w", err)
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(value)
	}
	if err := er.sc.Err(); err != nil {
		return model.FeedEvent{}, fmt.Errorf("failed to read stream: %w", err)
	}
	return model.FeedEvent{}, io.EOF
}
