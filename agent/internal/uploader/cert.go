package uploader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/trackbuf/trackbuf/agent/internal/config"
)

// expiringWithin is the window in which a valid certificate is reported as
// expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes the collector's leaf certificate.
type CertStatus struct {
	Endpoint string
	// Status is one of: valid | expiring | expired | untrusted | unreachable.
	Status   string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
	// Err explains an untrusted or unreachable status.
	Err error
}

// CheckCertificate dials the collector and inspects its TLS leaf
// certificate using the same client certificate and CA pool as uploads.
// ok is false for non-HTTPS collector URLs.
//
// The handshake itself does not verify the chain, so an expired certificate
// is still read and reported as expired. Trust is checked afterwards unless
// InsecureSkipVerify is set.
func CheckCertificate(ctx context.Context, collectorURL string, auth config.AuthConfig, tlsOpts config.TLSConfig) (cs CertStatus, ok bool) {
	u, err := url.Parse(collectorURL)
	if err != nil || u.Scheme != "https" {
		return CertStatus{}, false
	}
	cs.Endpoint = collectorURL

	base, err := buildTLSConfig(auth, tlsOpts)
	if err != nil {
		cs.Status, cs.Err = "unreachable", err
		return cs, true
	}
	dialCfg := base.Clone()
	dialCfg.InsecureSkipVerify = true //nolint:gosec // chain verified below
	dialCfg.ServerName = u.Hostname()

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: dialCfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status, cs.Err = "unreachable", err
		return cs, true
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		cs.Status = "unreachable"
		return cs, true
	}

	now := time.Now()
	leaf := peers[0]
	cs.Issuer = leaf.Issuer.CommonName
	cs.NotAfter = leaf.NotAfter
	cs.Status, cs.DaysLeft = certState(leaf.NotAfter, now)
	if cs.Status == "expired" || tlsOpts.InsecureSkipVerify {
		return cs, true
	}

	if err := verifyChain(peers, base.RootCAs, u.Hostname(), now); err != nil {
		cs.Status, cs.Err = "untrusted", err
	}
	return cs, true
}

func verifyChain(peers []*x509.Certificate, roots *x509.CertPool, host string, now time.Time) error {
	intermediates := x509.NewCertPool()
	for _, c := range peers[1:] {
		intermediates.AddCert(c)
	}
	_, err := peers[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       host,
		CurrentTime:   now,
	})
	return err
}

func certState(notAfter, now time.Time) (status string, daysLeft int) {
	left := notAfter.Sub(now)
	daysLeft = int(math.Floor(left.Hours() / 24))
	switch {
	case left <= 0:
		return "expired", daysLeft
	case left <= expiringWithin:
		return "expiring", daysLeft
	default:
		return "valid", daysLeft
	}
}
