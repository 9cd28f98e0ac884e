// pactctl drives a running coordinator from the command line: create a
// contract from a finished session, sign and commit it, confirm
// execution, and fetch the settlement report.
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"agentpact/pkg/identity"
)

const usage = `usage:
  pactctl keygen
  pactctl create --session <session_id>
  pactctl sign --contract <contract_id> --agent <agent_id> [--key <base64 ed25519 private key>]
  pactctl commit --contract <contract_id>
  pactctl settle --contract <contract_id> --outcomes <json>
  pactctl get --contract <contract_id>

environment:
  PACT_BASE_URL  coordinator base url (default http://localhost:8090)`

func main() {
	if len(os.Args) < 2 {
		fail(usage)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "create":
		runCreate(os.Args[2:])
	case "sign":
		runSign(os.Args[2:])
	case "commit":
		runCommit(os.Args[2:])
	case "settle":
		runSettle(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	default:
		fail(usage)
	}
}

func runKeygen() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fail(err.Error())
	}
	emit(map[string]any{
		"public_key":  base64.StdEncoding.EncodeToString(pub),
		"private_key": base64.StdEncoding.EncodeToString(priv),
	})
}

func runCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	session := fs.String("session", "", "session id")
	_ = fs.Parse(args)
	if *session == "" {
		fail("--session is required")
	}
	emit(post("/pact/sessions/"+*session+"/contract", map[string]any{}))
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	contract := fs.String("contract", "", "contract id")
	agent := fs.String("agent", "", "agent id")
	key := fs.String("key", "", "base64 ed25519 private key; omit for an opaque token")
	_ = fs.Parse(args)
	if *contract == "" || *agent == "" {
		fail("--contract and --agent are required")
	}

	sig := map[string]any{"agent_id": *agent, "token": "tok_manual"}
	if *key != "" {
		priv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*key))
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			fail("invalid private key")
		}
		token, err := identity.SignToken(*contract, *agent, ed25519.PrivateKey(priv))
		if err != nil {
			fail(err.Error())
		}
		pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
		sig["token"] = token
		sig["public_key"] = base64.StdEncoding.EncodeToString(pub)
		sig["algorithm"] = "ed25519"
	}
	emit(post("/pact/contracts/"+*contract+"/sign", sig))
}

func runCommit(args []string) {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	contract := fs.String("contract", "", "contract id")
	_ = fs.Parse(args)
	if *contract == "" {
		fail("--contract is required")
	}
	emit(post("/pact/contracts/"+*contract+":commit", map[string]any{}))
}

func runSettle(args []string) {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	contract := fs.String("contract", "", "contract id")
	outcomes := fs.String("outcomes", "[]", `reported outcomes, e.g. [{"name":"task","value":1}]`)
	_ = fs.Parse(args)
	if *contract == "" {
		fail("--contract is required")
	}
	var parsed []map[string]any
	if err := json.Unmarshal([]byte(*outcomes), &parsed); err != nil {
		fail("invalid --outcomes json: " + err.Error())
	}
	emit(post("/pact/contracts/"+*contract+":confirmExecution", map[string]any{"outcomes": parsed}))
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	contract := fs.String("contract", "", "contract id")
	_ = fs.Parse(args)
	if *contract == "" {
		fail("--contract is required")
	}
	resp, err := http.Get(baseURL() + "/pact/contracts/" + *contract)
	if err != nil {
		fail(err.Error())
	}
	defer resp.Body.Close()
	relay(resp)
}

func baseURL() string {
	if v := os.Getenv("PACT_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8090"
}

func post(path string, body map[string]any) map[string]any {
	b, _ := json.Marshal(body)
	resp, err := http.Post(baseURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		fail(err.Error())
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fail("bad response: " + err.Error())
	}
	if resp.StatusCode >= 300 {
		b, _ := json.Marshal(out)
		fail(string(b))
	}
	return out
}

func relay(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fail(string(body))
	}
	fmt.Println(strings.TrimSpace(string(body)))
}

func emit(v map[string]any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
