package server

import (
	"fmt"
	"net"
)

// allowList holds the client networks permitted to connect. An empty list
// rejects everybody.
type allowList []*net.IPNet

func parseAllowList(cidrs []string) (allowList, error) {
	list := make(allowList, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		list = append(list, network)
	}
	return list, nil
}

// allows reports whether addr, in host:port form, is inside the list.
func (l allowList) allows(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}

	for _, network := range l {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}
