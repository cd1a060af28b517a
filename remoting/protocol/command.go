package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/lybxkl/snode/util/bufpool"
)

const (
	flagResponse = 1 << 0
	flagOneway   = 1 << 1

	// MaxFrameLength 单帧上限 16M
	MaxFrameLength = 16 << 20
)

var (
	requestId int32

	ErrFrameTooLarge = errors.New("remoting: frame too large")
	ErrBadFrame      = errors.New("remoting: bad frame")
)

// RemotingCommand snode 与 enode 之间的请求/响应，也是 mqtt 报文在进程内的表示
type RemotingCommand struct {
	Code      int32             `json:"code"`
	Opaque    int32             `json:"opaque"`
	Flag      int32             `json:"flag"`
	Remark    string            `json:"remark,omitempty"`
	ExtFields map[string]string `json:"extFields,omitempty"`

	Body []byte `json:"-"`
	// CustomHeader 仅在进程内使用，不参与序列化
	CustomHeader interface{} `json:"-"`
}

func CreateRequestCommand(code int32, extFields map[string]string) *RemotingCommand {
	if extFields == nil {
		extFields = make(map[string]string)
	}
	return &RemotingCommand{
		Code:      code,
		Opaque:    atomic.AddInt32(&requestId, 1),
		ExtFields: extFields,
	}
}

func CreateResponseCommand(code int32, remark string) *RemotingCommand {
	return &RemotingCommand{
		Code:      code,
		Flag:      flagResponse,
		Remark:    remark,
		ExtFields: make(map[string]string),
	}
}

// NextOpaque 重新分配关联 id，同一个请求重试时使用
func (cmd *RemotingCommand) NextOpaque() int32 {
	cmd.Opaque = atomic.AddInt32(&requestId, 1)
	return cmd.Opaque
}

func (cmd *RemotingCommand) IsResponse() bool {
	return cmd.Flag&flagResponse == flagResponse
}

func (cmd *RemotingCommand) MarkResponse() {
	cmd.Flag |= flagResponse
}

func (cmd *RemotingCommand) IsOneway() bool {
	return cmd.Flag&flagOneway == flagOneway
}

func (cmd *RemotingCommand) MarkOneway() {
	cmd.Flag |= flagOneway
}

func (cmd *RemotingCommand) SetExt(key, value string) {
	if cmd.ExtFields == nil {
		cmd.ExtFields = make(map[string]string)
	}
	cmd.ExtFields[key] = value
}

func (cmd *RemotingCommand) Ext(key string) string {
	return cmd.ExtFields[key]
}

func (cmd *RemotingCommand) ExtInt64(key string) (int64, error) {
	v, ok := cmd.ExtFields[key]
	if !ok {
		return 0, fmt.Errorf("remoting: ext field %q not found", key)
	}
	return strconv.ParseInt(v, 10, 64)
}

func (cmd *RemotingCommand) String() string {
	return fmt.Sprintf("RemotingCommand [code=%d, opaque=%d, flag=%d, remark=%s, extFields=%v, body=%dB]",
		cmd.Code, cmd.Opaque, cmd.Flag, cmd.Remark, cmd.ExtFields, len(cmd.Body))
}

// Encode [4B total][4B header length][header json][body]，total 不含自身
func (cmd *RemotingCommand) Encode() ([]byte, error) {
	header, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	total := 4 + len(header) + len(cmd.Body)
	if total > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}

	buf := bufpool.BufferPoolGet()
	defer bufpool.BufferPoolPut(buf)
	buf.Grow(4 + total)

	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(total))
	buf.Write(n[:])
	binary.BigEndian.PutUint32(n[:], uint32(len(header)))
	buf.Write(n[:])
	buf.Write(header)
	buf.Write(cmd.Body)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode 从流中读取一帧
func Decode(r io.Reader) (*RemotingCommand, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	total := int(binary.BigEndian.Uint32(n[:]))
	if total > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	if total < 4 {
		return nil, ErrBadFrame
	}
	frame := make([]byte, total)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	headerLen := int(binary.BigEndian.Uint32(frame[:4]))
	if headerLen > total-4 {
		return nil, ErrBadFrame
	}
	cmd := &RemotingCommand{}
	if err := json.Unmarshal(frame[4:4+headerLen], cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if body := frame[4+headerLen:]; len(body) > 0 {
		cmd.Body = body
	}
	return cmd, nil
}
