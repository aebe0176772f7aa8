package modules

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const (
	bannerReadTimeout = time.Second
	bannerMaxBytes    = 512
)

// DefaultPorts are scanned when the configuration names none.
var DefaultPorts = []int{
	21,    // FTP
	22,    // SSH
	23,    // Telnet
	25,    // SMTP
	53,    // DNS
	80,    // HTTP
	110,   // POP3
	143,   // IMAP
	443,   // HTTPS
	445,   // SMB
	3306,  // MySQL
	3389,  // RDP
	5432,  // PostgreSQL
	5900,  // VNC
	6379,  // Redis
	8080,  // HTTP Alt
	8443,  // HTTPS Alt
	9200,  // Elasticsearch
	27017, // MongoDB
}

var serviceNames = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	443:   "https",
	445:   "smb",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5900:  "vnc",
	6379:  "redis",
	8080:  "http-alt",
	8443:  "https-alt",
	9200:  "elasticsearch",
	27017: "mongodb",
}

// PortModule performs a TCP connect scan with banner grabbing.
type PortModule struct {
	dialer  Dialer
	ports   []int
	threads int
	logger  *zap.Logger
}

func (m *PortModule) Kind() recon.Module { return recon.ModulePorts }

func (m *PortModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	ports := m.ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}

	var mu sync.Mutex
	open := make([]recon.PortInfo, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, m.threads))
	for _, port := range ports {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if info, ok := m.checkPort(gctx, target.Host, port); ok {
				mu.Lock()
				open = append(open, info)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrAborted, context.Cause(ctx))
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Port < open[j].Port })
	result := recon.PortResult{
		Host:    target.Host,
		Scanned: len(ports),
		Open:    open,
	}
	analyzePortRisks(&result)
	return result, nil
}

// checkPort checks if a specific port is open
func (m *PortModule) checkPort(ctx context.Context, host string, port int) (recon.PortInfo, bool) {
	conn, err := m.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return recon.PortInfo{}, false
	}
	defer conn.Close()

	info := recon.PortInfo{
		Port:    port,
		Service: serviceName(port),
		Risk:    portRisk(port),
	}

	_ = conn.SetReadDeadline(time.Now().Add(bannerReadTimeout))
	buf := make([]byte, bannerMaxBytes)
	if n, err := conn.Read(buf); err == nil && n > 0 {
		info.Banner = strings.ToValidUTF8(strings.TrimSpace(string(buf[:n])), "")
	}
	m.logger.Debug("open port", zap.String("host", host), zap.Int("port", port))
	return info, true
}

func serviceName(port int) string {
	if service, ok := serviceNames[port]; ok {
		return service
	}
	return "unknown"
}

// portRisk assigns risk level to open ports
func portRisk(port int) recon.Severity {
	switch port {
	case 23, 3389, 5900: // Telnet, RDP, VNC
		return recon.SeverityCritical
	case 21, 22, 445, 3306, 5432, 6379, 9200, 27017: // FTP, SSH, SMB, data stores
		return recon.SeverityHigh
	case 25, 110, 143, 8080, 8443: // Mail, HTTP alts
		return recon.SeverityMedium
	case 80, 443:
		return recon.SeverityLow
	default:
		return recon.SeverityInfo
	}
}

var severityRank = map[recon.Severity]int{
	recon.SeverityInfo:     0,
	recon.SeverityLow:      1,
	recon.SeverityMedium:   2,
	recon.SeverityHigh:     3,
	recon.SeverityCritical: 4,
}

// analyzePortRisks summarises exposure and sets the overall risk level
func analyzePortRisks(result *recon.PortResult) {
	result.RiskLevel = recon.SeverityInfo
	critical, high := 0, 0
	for _, p := range result.Open {
		if severityRank[p.Risk] > severityRank[result.RiskLevel] {
			result.RiskLevel = p.Risk
		}
		switch p.Risk {
		case recon.SeverityCritical:
			critical++
		case recon.SeverityHigh:
			high++
		}
	}
	if critical > 0 {
		result.Issues = append(result.Issues,
			fmt.Sprintf("%d critical port(s) exposed (Telnet/RDP/VNC)", critical))
	}
	if high > 0 {
		result.Issues = append(result.Issues,
			fmt.Sprintf("%d high-risk port(s) exposed (SSH/Database/SMB)", high))
	}
}
