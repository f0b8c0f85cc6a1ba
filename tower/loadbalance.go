/* Copyright 2022 Treble Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tower

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// TowerNotFoundError reports a tower id the server does not know.
type TowerNotFoundError struct {
	TowerID int
	URL     string
}

func (e *TowerNotFoundError) Error() string {
	return fmt.Sprintf("tower %d not found at '%s'", e.TowerID, e.URL)
}

// The tower page embeds the socket server address as
//
//	server_ip: "https://..."
var serverIPRe = regexp.MustCompile(`server_ip:\s*"([^"]*)"`)

// FixURL prefixes https:// when the scheme is missing, so bare
// hostnames work on the command line.
func FixURL(u string) string {
	if strings.HasPrefix(u, "http") {
		return u
	}
	return "https://" + u
}

// LoadBalancingURL fetches the tower's page from the web server and
// extracts the address of the socket server hosting the tower, which
// since load balancing is not necessarily the web server itself.
func LoadBalancingURL(ctx context.Context, client *http.Client, towerID int, serverURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base := FixURL(serverURL)

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL '%s': %w", serverURL, err)
	}
	ref, err := u.Parse(strconv.Itoa(towerID))
	if err != nil {
		return "", fmt.Errorf("invalid server URL '%s': %w", serverURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to connect to '%s': %w", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	m := serverIPRe.FindSubmatch(body)
	if m == nil {
		return "", &TowerNotFoundError{TowerID: towerID, URL: base}
	}
	return string(m[1]), nil
}
