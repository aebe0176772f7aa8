package modules

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/transport"
)

const dnsMessageType = "application/dns-message"

// dnsQueryTypes are the record types looked up for every target.
var dnsQueryTypes = []uint16{
	dns.TypeA,
	dns.TypeAAAA,
	dns.TypeCNAME,
	dns.TypeMX,
	dns.TypeNS,
	dns.TypeTXT,
	dns.TypeSOA,
	dns.TypeCAA,
}

// ErrNXDomain indicates the domain does not exist.
var ErrNXDomain = errors.New("domain does not exist")

// DNSModule resolves records over DNS-over-HTTPS (RFC 8484 wire format).
type DNSModule struct {
	fetcher  Fetcher
	endpoint string
	threads  int
	logger   *zap.Logger
}

func (m *DNSModule) Kind() recon.Module { return recon.ModuleDNS }

func (m *DNSModule) Run(ctx context.Context, target Target) (recon.Result, error) {
	result := recon.DNSResult{
		Domain:     target.Host,
		Resolver:   m.endpoint,
		Records:    make(map[string][]recon.DNSRecord),
		Errors:     make(map[string]string),
		Provenance: recon.Provenance{Trust: recon.TrustDirect},
	}
	if target.IsIP() {
		return nil, fmt.Errorf("target %s is an IP address", target.Host)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, m.threads))

	for _, qtype := range dnsQueryTypes {
		g.Go(func() error {
			records, prov, err := m.query(gctx, target.Host, qtype)
			name := dns.TypeToString[qtype]

			mu.Lock()
			defer mu.Unlock()
			switch {
			case transport.IsAborted(err), errors.Is(err, ErrNXDomain):
				return err
			case err != nil:
				result.Errors[name] = err.Error()
			default:
				result.Provenance = result.Provenance.Merge(prov)
				if len(records) > 0 {
					result.Records[name] = records
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(result.Errors) == len(dnsQueryTypes) {
		return nil, fmt.Errorf("all DNS queries failed, first error: %s", firstError(result.Errors))
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

func (m *DNSModule) query(ctx context.Context, host string, qtype uint16) ([]recon.DNSRecord, recon.Provenance, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.Id = 0
	msg.RecursionDesired = true
	packed, err := msg.Pack()
	if err != nil {
		return nil, recon.Provenance{}, fmt.Errorf("pack query: %w", err)
	}

	sep := "?"
	if strings.Contains(m.endpoint, "?") {
		sep = "&"
	}
	queryURL := m.endpoint + sep + "dns=" + base64.RawURLEncoding.EncodeToString(packed)

	resp, err := m.fetcher.Execute(ctx, queryURL, transport.RequestOptions{
		Header: http.Header{"Accept": []string{dnsMessageType}},
	})
	if err != nil {
		return nil, recon.Provenance{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, recon.Provenance{}, fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(resp.Body); err != nil {
		return nil, recon.Provenance{}, fmt.Errorf("unpack reply: %w", err)
	}
	switch reply.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, recon.Provenance{}, fmt.Errorf("%w: %s", ErrNXDomain, host)
	default:
		return nil, recon.Provenance{}, fmt.Errorf("resolver answered %s", dns.RcodeToString[reply.Rcode])
	}

	records := make([]recon.DNSRecord, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		records = append(records, recon.DNSRecord{
			Type:  dns.TypeToString[rr.Header().Rrtype],
			Name:  strings.TrimSuffix(rr.Header().Name, "."),
			Value: recordValue(rr),
			TTL:   rr.Header().Ttl,
		})
	}
	return records, resp.Meta.Provenance(), nil
}

func recordValue(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return strings.TrimSuffix(v.Target, ".")
	case *dns.MX:
		return fmt.Sprintf("%d %s", v.Preference, strings.TrimSuffix(v.Mx, "."))
	case *dns.NS:
		return strings.TrimSuffix(v.Ns, ".")
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	case *dns.SOA:
		return fmt.Sprintf("%s %s %d", strings.TrimSuffix(v.Ns, "."), strings.TrimSuffix(v.Mbox, "."), v.Serial)
	case *dns.CAA:
		return fmt.Sprintf("%d %s %q", v.Flag, v.Tag, v.Value)
	default:
		return strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String()))
	}
}

func firstError(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0] + ": " + errs[keys[0]]
}
