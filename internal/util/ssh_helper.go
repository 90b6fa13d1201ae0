// Package util provides network helpers for the OAuth loopback flow:
// detecting the machine's reachable IP address and printing SSH tunnel
// instructions for remote logins.
package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var ipServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
	"https://ipinfo.io/ip",
}

// getPublicIP returns the first successful response from the IP services.
func getPublicIP() (string, error) {
	for _, service := range ipServices {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Debugf("failed to get public IP from %s: %v", service, err)
			cancel()
			continue
		}
		ip, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		return strings.TrimSpace(string(ip)), nil
	}
	return "", fmt.Errorf("all IP services failed")
}

// getOutboundIP determines the local IP used for outbound traffic.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// GetIPAddress returns the best-available IP address, preferring the public
// address and falling back to the outbound interface, then loopback.
func GetIPAddress() string {
	if publicIP, err := getPublicIP(); err == nil {
		return publicIP
	}
	if outboundIP, err := getOutboundIP(); err == nil {
		return outboundIP
	}
	return "127.0.0.1"
}

// PrintSSHTunnelInstructions prints the SSH command a user on a remote
// machine needs to reach the local OAuth callback listener.
func PrintSSHTunnelInstructions(port int) {
	ipAddress := GetIPAddress()
	border := strings.Repeat("=", 80)
	fmt.Println("To authenticate from a remote machine, an SSH tunnel may be required.")
	fmt.Println(border)
	fmt.Println("  Run the following command on your local machine (NOT the server):")
	fmt.Println()
	fmt.Printf("  ssh -L %d:127.0.0.1:%d root@%s -p 22\n", port, port, ipAddress)
	fmt.Println()
	fmt.Println("  NOTE: adjust the user and '-p 22' to match your server's SSH setup.")
	fmt.Println(border)
}
