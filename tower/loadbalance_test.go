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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoadBalancingURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/12345" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<script>
			window.tower_parameters = {
				tower_id: 12345,
				server_ip: "https://sockets.example.com",
			};
		</script>`)
	}))
	defer ts.Close()

	got, err := LoadBalancingURL(context.Background(), ts.Client(), 12345, ts.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://sockets.example.com" {
		t.Fatalf("got %q", got)
	}

	_, err = LoadBalancingURL(context.Background(), ts.Client(), 99999, ts.URL+"/")
	var notFound *TowerNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, wanted TowerNotFoundError", err)
	}
	if notFound.TowerID != 99999 {
		t.Fatalf("error for tower %d", notFound.TowerID)
	}
}

func TestFixURL(t *testing.T) {
	if got := FixURL("ringingroom.com"); got != "https://ringingroom.com" {
		t.Fatalf("got %q", got)
	}
	if got := FixURL("http://localhost:8080"); got != "http://localhost:8080" {
		t.Fatalf("got %q", got)
	}
}
