package media

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

const defaultTURNTTL = 12 * time.Hour

// ICEConfig lists the STUN and TURN servers handed to clients.
type ICEConfig struct {
	STUNURLs []string
	TURNURLs []string
	// TURNSecret is the static-auth-secret shared with the TURN server.
	// Without it no TURN entry is returned.
	TURNSecret string
	TURNTTL    time.Duration
}

// TURNCredential derives a TURN REST API credential for user valid until
// expiry: username "<expiry>:<user>", password base64(HMAC-SHA1(secret, username)).
func TURNCredential(secret, user string, expiry time.Time) (username, password string) {
	username = fmt.Sprintf("%d:%s", expiry.Unix(), user)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ICEServers returns the server list for user at now.
func (c ICEConfig) ICEServers(user string, now time.Time) signaling.ICEServersResponse {
	resp := signaling.ICEServersResponse{ICEServers: make([]signaling.ICEServer, 0, 2)}
	if len(c.STUNURLs) > 0 {
		resp.ICEServers = append(resp.ICEServers, signaling.ICEServer{URLs: c.STUNURLs})
	}
	if len(c.TURNURLs) == 0 || c.TURNSecret == "" {
		return resp
	}

	ttl := c.TURNTTL
	if ttl <= 0 {
		ttl = defaultTURNTTL
	}
	username, password := TURNCredential(c.TURNSecret, user, now.Add(ttl))
	resp.ICEServers = append(resp.ICEServers, signaling.ICEServer{
		URLs:       c.TURNURLs,
		Username:   username,
		Credential: password,
	})
	resp.TTL = int64(ttl / time.Second)
	return resp
}
