// Command server runs a minimal MoQT relay: it publishes a single
// synthetic track ("demo"/"clock") that ticks once a second and serves
// SUBSCRIBE/FETCH against it over QUIC.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"log/slog"
	"math/big"
	"time"

	"github.com/mengelbart/moqtransport"
	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/moqtransport/quicmoq"
	"github.com/quic-go/quic-go"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:8443", "address to listen on")
	flag.Parse()

	logger := slog.Default()

	registry := moqtransport.NewLocalTrackRegistry()
	track := registry.AddTrack(
		moqtransport.FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"},
		moqtransport.ForwardingPreferenceSubgroup,
		128,
	)
	go publishClock(track)

	ln, err := quic.ListenAddr(*addr, generateTLSConfig(), &quic.Config{EnableDatagrams: true})
	if err != nil {
		logger.Error("failed to listen", "error", err)
		return
	}
	logger.Info("listening", "addr", *addr)

	for {
		qconn, err := ln.Accept(context.Background())
		if err != nil {
			logger.Error("failed to accept connection", "error", err)
			return
		}
		go handleConnection(logger, qconn, registry)
	}
}

func handleConnection(logger *slog.Logger, qconn quic.Connection, registry *moqtransport.LocalTrackRegistry) {
	conn := quicmoq.NewServer(qconn)
	sess, err := moqtransport.NewSession(
		conn,
		moqtransport.WithTrackPublisher(registry),
		moqtransport.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to establish session", "error", err)
		return
	}
	<-conn.Context().Done()
	_ = sess.Close(0, "connection closed")
}

// publishClock feeds one payload object followed by an end-of-group status
// object per group into track, forever, simulating
// an application producing media independently of any subscriber.
func publishClock(track *moqtransport.LocalTrack) {
	var group uint64
	for range time.Tick(time.Second) {
		track.PublishObject(moqtransport.PublishedObject{
			FullSequence: moqtransport.FullSequence{Group: group, Subgroup: 0, Object: 0},
			Priority:     128,
			Payload:      []byte(time.Now().UTC().Format(time.RFC3339)),
		})
		track.PublishObject(moqtransport.PublishedObject{
			FullSequence: moqtransport.FullSequence{Group: group, Subgroup: 0, Object: 1},
			Priority:     128,
			Status:       uint64(wire.ObjectStatusEndOfGroup),
		})
		group++
	}
}

// generateTLSConfig produces a throwaway self-signed certificate for local
// testing; production deployments supply their own *tls.Config.
func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{"moq-00"},
	}
}
