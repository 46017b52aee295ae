// Command client connects to a server's "demo"/"clock" track, subscribes
// to it, and prints every object it receives.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"

	"github.com/mengelbart/moqtransport"
	"github.com/mengelbart/moqtransport/quicmoq"
	"github.com/quic-go/quic-go"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8443", "server address to dial")
	flag.Parse()

	logger := slog.Default()

	qconn, err := quic.DialAddr(context.Background(), *addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"moq-00"},
	}, &quic.Config{EnableDatagrams: true})
	if err != nil {
		logger.Error("failed to dial", "error", err)
		return
	}

	established := make(chan struct{})
	conn := quicmoq.NewClient(qconn)
	sess, err := moqtransport.NewSession(
		conn,
		moqtransport.WithLogger(logger),
		moqtransport.WithSessionCallbacks(moqtransport.SessionCallbacks{
			OnSessionEstablished: func() { close(established) },
		}),
	)
	if err != nil {
		logger.Error("failed to establish session", "error", err)
		return
	}
	defer sess.Close(0, "done")

	// SUBSCRIBE is only possible once SERVER_SETUP has granted a window.
	select {
	case <-established:
	case <-conn.Context().Done():
		logger.Error("connection closed before setup completed")
		return
	}

	track, ok := sess.SubscribeCurrentObject(
		moqtransport.FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"},
	)
	if !ok {
		logger.Error("failed to subscribe")
		return
	}

	for {
		obj, err := track.ReadObject(context.Background())
		if err != nil {
			logger.Info("track done", "error", err)
			return
		}
		logger.Info("received object", "sequence", obj.FullSequence, "payload", string(obj.Payload))
	}
}
