package geo

import "google.golang.org/grpc"

// DeviceSample is a streamed position fix from a device.
type DeviceSample struct {
	DeviceId string
	Lat      float64
	Lng      float64
	Accuracy float64
	Heading  float64
	Speed    float64
	Ts       int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// DeviceFeedServer defines the gRPC contract.
type DeviceFeedServer interface {
	StreamSamples(DeviceFeed_StreamSamplesServer) error
}

// RegisterDeviceFeedServer registers the service implementation.
func RegisterDeviceFeedServer(s *grpc.Server, srv DeviceFeedServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "presence.DeviceFeed",
		HandlerType: (*DeviceFeedServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamSamples",
			Handler:       _DeviceFeed_StreamSamples_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// DeviceFeed_StreamSamplesServer defines the bidi stream interface.
type DeviceFeed_StreamSamplesServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DeviceSample, error)
}

func _DeviceFeed_StreamSamples_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DeviceFeedServer).StreamSamples(&deviceFeedStreamServer{ServerStream: stream})
}

type deviceFeedStreamServer struct {
	grpc.ServerStream
}

func (s *deviceFeedStreamServer) SendAndClose(*Ack) error { return nil }

func (s *deviceFeedStreamServer) Recv() (*DeviceSample, error) {
	msg := new(DeviceSample)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
