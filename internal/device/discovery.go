// ABOUTME: mDNS-based discovery of remote receivers
// ABOUTME: Browses _roomcast-receiver._tcp and upserts/withdraws into a Registry
package device

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_roomcast-receiver._tcp"

// Discovery continuously browses for remote receivers and reflects them
// into a Registry. Grounded on the teacher's internal/discovery/mdns.go
// browseLoop, redirected from "browse for servers" to "browse for
// receivers"; TXT attribute parsing (id/pw) grounded on player.c's
// raop_device_cb and its password-flag handling.
type Discovery struct {
	registry *Registry
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	seen map[uint64]time.Time
}

// NewDiscovery creates a discovery loop that reflects browse results into
// registry, re-browsing every interval.
func NewDiscovery(registry *Registry, interval time.Duration) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discovery{
		registry: registry,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[uint64]time.Time),
	}
}

// Run starts the browse loop; it blocks until Stop is called or ctx is
// done, so callers should run it in its own goroutine.
func (d *Discovery) Run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.browseOnce()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.browseOnce()
			d.expireStale()
		}
	}
}

// Stop halts the browse loop.
func (d *Discovery) Stop() {
	d.cancel()
}

func (d *Discovery) browseOnce() {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			d.handleEntry(entry)
		}
	}()

	params := &mdns.QueryParam{
		Service: serviceType,
		Domain:  "local",
		Timeout: 3 * time.Second,
		Entries: entries,
	}
	if err := mdns.Query(params); err != nil {
		log.Printf("device: mdns query failed: %v", err)
	}
	close(entries)
	<-done
}

func (d *Discovery) handleEntry(entry *mdns.ServiceEntry) {
	// IPv4 only, per spec.md §4.D's address-family restriction.
	addr := entry.AddrV4
	if addr == nil {
		log.Printf("device: ignoring %s: no IPv4 address advertised", entry.Name)
		return
	}

	id := hashName(entry.Name)
	id_, hasPassword, password := parseTXT(entry.InfoFields, id)

	dev := d.registry.Upsert(id_, entry.Name, addr.String(), entry.Port, hasPassword, password)
	d.seen[dev.ID] = time.Now()
}

func (d *Discovery) expireStale() {
	cutoff := time.Now().Add(-3 * d.interval)
	for id, last := range d.seen {
		if last.Before(cutoff) {
			d.registry.Withdraw(id)
			delete(d.seen, id)
		}
	}
}

// parseTXT extracts the id/pw attributes from a receiver's TXT record. If
// an explicit id= field is present it overrides the name-derived fallback
// id: a hex value is parsed as the id, any other value is hashed, matching forked-daapd's habit of keying remote_pairings off an
// advertised identifier rather than the mDNS instance name.
func parseTXT(fields []string, fallbackID uint64) (id uint64, hasPassword bool, password string) {
	id = fallbackID
	for _, f := range fields {
		key, value, ok := splitTXT(f)
		if !ok {
			continue
		}
		switch key {
		case "id":
			if v, err := strconv.ParseUint(value, 16, 64); err == nil {
				id = v
			} else if h := hashName(value); h != 0 {
				id = h
			}
		case "pw":
			hasPassword = value == "true" || value == "1"
		case "password":
			password = value
			hasPassword = true
		}
	}
	return id, hasPassword, password
}

func splitTXT(f string) (key, value string, ok bool) {
	for i := 0; i < len(f); i++ {
		if f[i] == '=' {
			return f[:i], f[i+1:], true
		}
	}
	return "", "", false
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// Advertise publishes this player's own receiver endpoint, mirroring the
// teacher's server-mode advertisement but under the receiver service type
// so other roomcast players can discover this instance as an output.
func Advertise(ctx context.Context, instance string, port int, id string, hasPassword bool) (func(), error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("device: local ips: %w", err)
	}

	txt := []string{"id=" + id}
	if hasPassword {
		txt = append(txt, "pw=true")
	} else {
		txt = append(txt, "pw=false")
	}

	service, err := mdns.NewMDNSService(instance, serviceType, "", "", port, ips, txt)
	if err != nil {
		return nil, fmt.Errorf("device: create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("device: create server: %w", err)
	}

	stop := func() { _ = server.Shutdown() }
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}

func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable local IPv4 addresses found")
	}
	return ips, nil
}
