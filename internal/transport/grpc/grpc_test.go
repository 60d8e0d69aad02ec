package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/dispatch"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/feedback"
	"github.com/nadzzz/obivox/internal/message"
)

type fakeService struct {
	handleErr   error
	feedbackErr error
}

func (f *fakeService) Handle(_ context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if f.handleErr != nil {
		return &message.DispatchResult{MessageID: msg.ID, Error: f.handleErr.Error()}, f.handleErr
	}
	return &message.DispatchResult{
		MessageID:  msg.ID,
		Service:    msg.Service,
		Transcript: "echo " + msg.Text,
		Zone:       drift.Green.String(),
	}, nil
}

func (f *fakeService) Feedback(_ context.Context, c message.Correction) (*message.FeedbackResult, error) {
	if f.feedbackErr != nil {
		return nil, f.feedbackErr
	}
	return &message.FeedbackResult{CorrectionID: "c-" + c.RequestID}, nil
}

// serve starts the transport on a loopback port and returns a client
// connection to it.
func serve(t *testing.T, svc *fakeService) (*Transport, *grpc.ClientConn) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tr := New(config.GRPCConfig{})
	done := make(chan error, 1)
	go func() { done <- tr.Serve(lis, svc) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = tr.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return tr, conn
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDispatch(t *testing.T) {
	_, conn := serve(t, &fakeService{})

	var res message.DispatchResult
	err := conn.Invoke(callCtx(t), DispatchMethod,
		&message.Message{ID: "m1", Text: "hi", Service: "tts"}, &res,
		grpc.CallContentSubtype("json"))
	require.NoError(t, err)

	assert.Equal(t, "m1", res.MessageID)
	assert.Equal(t, "tts", res.Service)
	assert.Equal(t, "echo hi", res.Transcript)
	assert.Equal(t, "green", res.Zone)
}

func TestDispatch_ErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("decode: %w", dispatch.ErrInvalidMessage), codes.InvalidArgument},
		{fmt.Errorf("lookup: %w", atlas.ErrNotFound), codes.NotFound},
		{atlas.ErrDuplicateKey, codes.AlreadyExists},
		{fmt.Errorf("backend down"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			_, conn := serve(t, &fakeService{handleErr: tc.err})

			var res message.DispatchResult
			err := conn.Invoke(callCtx(t), DispatchMethod, &message.Message{ID: "m"}, &res,
				grpc.CallContentSubtype("json"))
			require.Error(t, err)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tc.want, st.Code())
			assert.Equal(t, tc.err.Error(), st.Message())
		})
	}
}

func TestFeedback(t *testing.T) {
	_, conn := serve(t, &fakeService{})

	var res message.FeedbackResult
	err := conn.Invoke(callCtx(t), FeedbackMethod,
		&message.Correction{RequestID: "r9", Accepted: true}, &res,
		grpc.CallContentSubtype("json"))
	require.NoError(t, err)
	assert.Equal(t, "c-r9", res.CorrectionID)
}

func TestFeedback_NotFound(t *testing.T) {
	_, conn := serve(t, &fakeService{feedbackErr: fmt.Errorf("request x: %w", feedback.ErrNotFound)})

	var res message.FeedbackResult
	err := conn.Invoke(callCtx(t), FeedbackMethod, &message.Correction{RequestID: "x"}, &res,
		grpc.CallContentSubtype("json"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealth(t *testing.T) {
	tr, conn := serve(t, &fakeService{})
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(callCtx(t), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = client.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, "grpc", tr.Name())
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	b, err := c.Marshal(&message.Correction{RequestID: "r", SuggestedCorrection: "x"})
	require.NoError(t, err)
	var got message.Correction
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, "r", got.RequestID)
	assert.Equal(t, "x", got.SuggestedCorrection)
}
