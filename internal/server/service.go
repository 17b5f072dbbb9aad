package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
)

// Request is one client message on a transcription stream. Audio is carried
// either as float32 Samples or as little-endian PCM16 bytes.
type Request struct {
	SessionID string    `msgpack:"session_id,omitempty"`
	Sequence  uint64    `msgpack:"sequence"`
	Samples   []float32 `msgpack:"samples,omitempty"`
	PCM16     []byte    `msgpack:"pcm16,omitempty"`
	// ProcessingInterval in seconds; honoured only before the first audio.
	ProcessingInterval float64           `msgpack:"processing_interval,omitempty"`
	Finish             bool              `msgpack:"finish,omitempty"`
	Metadata           map[string]string `msgpack:"metadata,omitempty"`
}

// Transcript carries tokens committed since the previous transcript. The
// final transcript's Text holds the whole stream.
type Transcript struct {
	SessionID string            `msgpack:"session_id"`
	Sequence  uint64            `msgpack:"sequence"`
	Tokens    []string          `msgpack:"tokens,omitempty"`
	Text      string            `msgpack:"text"`
	Final     bool              `msgpack:"final"`
	Metadata  map[string]string `msgpack:"metadata,omitempty"`
}

const streamMethod = "StreamTranscription"

// TranscriberServer is the server API of the Transcriber service.
type TranscriberServer interface {
	StreamTranscription(TranscriptionStream) error
}

// TranscriptionStream is the server side of a StreamTranscription call.
type TranscriptionStream interface {
	Send(*Transcript) error
	Recv() (*Request, error)
	grpc.ServerStream
}

// ServiceDesc describes the Transcriber service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: moduleinfo.Info.ServiceName,
	HandlerType: (*TranscriberServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamMethod,
			Handler:       streamTranscriptionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "voxtral/v1/transcriber",
}

// RegisterTranscriberServer registers srv on s.
func RegisterTranscriberServer(s grpc.ServiceRegistrar, srv TranscriberServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func streamTranscriptionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TranscriberServer).StreamTranscription(&serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (x *serverStream) Send(m *Transcript) error {
	return x.ServerStream.SendMsg(m)
}

func (x *serverStream) Recv() (*Request, error) {
	m := new(Request)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// TranscriberClient is the client API of the Transcriber service.
type TranscriberClient interface {
	StreamTranscription(ctx context.Context, opts ...grpc.CallOption) (TranscriptionClientStream, error)
}

// TranscriptionClientStream is the client side of a StreamTranscription call.
type TranscriptionClientStream interface {
	Send(*Request) error
	Recv() (*Transcript, error)
	grpc.ClientStream
}

type transcriberClient struct {
	cc grpc.ClientConnInterface
}

// NewTranscriberClient returns a client that speaks the msgpack codec.
func NewTranscriberClient(cc grpc.ClientConnInterface) TranscriberClient {
	return &transcriberClient{cc: cc}
}

func (c *transcriberClient) StreamTranscription(ctx context.Context, opts ...grpc.CallOption) (TranscriptionClientStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceDesc.ServiceName+"/"+streamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}

type clientStream struct {
	grpc.ClientStream
}

func (x *clientStream) Send(m *Request) error {
	return x.ClientStream.SendMsg(m)
}

func (x *clientStream) Recv() (*Transcript, error) {
	m := new(Transcript)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
