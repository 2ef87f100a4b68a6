package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/RangerMauve/hyper-presense/internal/identity"
	"github.com/RangerMauve/hyper-presense/internal/wire"
)

const (
	alpnProto   = "hyper-presense"
	dialTimeout = 8 * time.Second
)

// QUICMesh carries presence frames over QUIC streams, one frame per stream.
// Neighbors are added and removed by the host as transport connections come
// and go; Broadcast fans a frame out to every current neighbor and relays
// received frames while their TTL lasts.
type QUICMesh struct {
	self identity.PeerID
	log  *zap.Logger
	seq  atomic.Uint64
	seen *seenCache

	mu        sync.Mutex
	handler   Handler
	neighbors map[identity.PeerID]string
	listener  *quic.Listener
	closed    chan struct{}
}

func NewQUIC(self identity.PeerID, log *zap.Logger) *QUICMesh {
	if log == nil {
		log = zap.NewNop()
	}
	return &QUICMesh{
		self:      self,
		log:       log,
		seen:      newSeenCache(0),
		neighbors: make(map[identity.PeerID]string),
		closed:    make(chan struct{}),
	}
}

// Listen starts accepting inbound mesh connections on addr.
func (m *QUICMesh) Listen(addr string) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()
	m.log.Info("mesh listening", zap.String("addr", listener.Addr().String()))
	go m.acceptLoop(listener)
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (m *QUICMesh) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *QUICMesh) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// AddNeighbor registers a direct neighbor's dial address.
func (m *QUICMesh) AddNeighbor(id identity.PeerID, addr string) {
	m.mu.Lock()
	m.neighbors[id] = addr
	m.mu.Unlock()
}

func (m *QUICMesh) RemoveNeighbor(id identity.PeerID) {
	m.mu.Lock()
	delete(m.neighbors, id)
	m.mu.Unlock()
}

func (m *QUICMesh) Broadcast(payload []byte, ttl int) error {
	select {
	case <-m.closed:
		return errors.New("mesh closed")
	default:
	}
	f := gossipFrame{
		From:    m.self.String(),
		Seq:     m.seq.Add(1),
		TTL:     normalizeTTL(ttl),
		Payload: payload,
	}
	m.seen.add(frameID(f))
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	m.fanOut(data)
	return nil
}

func (m *QUICMesh) Close() error {
	select {
	case <-m.closed:
		return nil
	default:
	}
	close(m.closed)
	m.seen.close()
	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()
	if listener != nil {
		return listener.Close()
	}
	return nil
}

func (m *QUICMesh) acceptLoop(listener *quic.Listener) {
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			select {
			case <-m.closed:
			default:
				m.log.Warn("quic accept error", zap.Error(err))
			}
			return
		}
		go m.handleConn(conn)
	}
}

func (m *QUICMesh) handleConn(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go func(s *quic.Stream) {
			defer s.Close()
			data, err := wire.ReadFrame(s)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					m.log.Debug("quic read error", zap.Error(err))
				}
				return
			}
			f, err := decodeFrame(data)
			if err != nil {
				m.log.Debug("bad mesh frame", zap.Error(err))
				return
			}
			m.receive(f)
		}(stream)
	}
}

func (m *QUICMesh) receive(f gossipFrame) {
	if !m.seen.add(frameID(f)) {
		return
	}
	sender, err := identity.Parse(f.From)
	if err != nil {
		m.log.Debug("bad frame origin", zap.String("from", f.From))
		return
	}
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(f.Payload, sender)
	}
	if f.TTL > 0 {
		relay := f
		relay.TTL--
		if data, err := encodeFrame(relay); err == nil {
			m.fanOut(data)
		}
	}
}

// fanOut sends data to every current neighbor, fire-and-forget. Delivery
// failures are logged and otherwise ignored; gossip tolerates loss.
func (m *QUICMesh) fanOut(data []byte) {
	m.mu.Lock()
	addrs := make([]string, 0, len(m.neighbors))
	for _, addr := range m.neighbors {
		addrs = append(addrs, addr)
	}
	m.mu.Unlock()
	for _, addr := range addrs {
		go func(addr string) {
			if err := m.sendTo(addr, data); err != nil {
				m.log.Debug("mesh send failed", zap.String("addr", addr), zap.Error(err))
			}
		}(addr)
	}
}

func (m *QUICMesh) sendTo(addr string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	tlsConf, err := clientTLSConfig()
	if err != nil {
		return err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return err
	}
	defer conn.CloseWithError(0, "")
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(stream, data); err != nil {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a deterministic self-signed certificate. Peer identity
// is not authenticated at this layer (a stated non-goal); TLS is carried only
// because QUIC requires it.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha256.Sum256([]byte("hyper-presense-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(200 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}
	return cert, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}, nil
}

func clientTLSConfig() (*tls.Config, error) {
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{alpnProto},
	}, nil
}
