package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"p2pspace/internal/canonical"
	"p2pspace/internal/config"
	"p2pspace/internal/identity"
	"p2pspace/internal/node"
	"p2pspace/internal/space"
	"p2pspace/pkg/models"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitRuntimeError = 20
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "identity-new":
		runIdentityNew(os.Args[2:])
	case "space-new":
		runSpaceNew(os.Args[2:])
	case "invite-decode":
		runInviteDecode(os.Args[2:])
	case "fingerprint":
		runFingerprint(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runIdentityNew(args []string) {
	fs := flag.NewFlagSet("identity-new", flag.ExitOnError)
	passphrase := fs.String("passphrase", "", "passphrase protecting the recovery seed")
	if err := fs.Parse(args); err != nil {
		fatal(err.Error(), exitInvalidInput)
	}
	if *passphrase == "" {
		fatal("passphrase is required", exitInvalidInput)
	}
	mgr, err := identity.NewManager()
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	ident, mnemonic, err := mgr.CreateIdentity(*passphrase)
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	device, err := mgr.ActiveDevice()
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	printJSON(map[string]any{
		"principal_id": ident.PrincipalID,
		"device_id":    device.ID,
		"fingerprint":  canonical.Fingerprint(ident.PrincipalID),
		"mnemonic":     mnemonic,
	})
}

func runSpaceNew(args []string) {
	fs := flag.NewFlagSet("space-new", flag.ExitOnError)
	name := fs.String("name", "", "space display name")
	passphrase := fs.String("passphrase", "", "passphrase protecting the space root seed")
	if err := fs.Parse(args); err != nil {
		fatal(err.Error(), exitInvalidInput)
	}
	if *passphrase == "" {
		fatal("passphrase is required", exitInvalidInput)
	}
	mgr, err := identity.NewManager()
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	_, mnemonic, err := mgr.CreateIdentity(*passphrase)
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	genesis, err := signedGenesis(mgr, *name)
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	printJSON(map[string]any{
		"genesis":  genesis,
		"mnemonic": mnemonic,
	})
}

func runInviteDecode(args []string) {
	fs := flag.NewFlagSet("invite-decode", flag.ExitOnError)
	link := fs.String("link", "", "invite link or bare #invite= fragment")
	if err := fs.Parse(args); err != nil {
		fatal(err.Error(), exitInvalidInput)
	}
	inv, err := space.DecodeInviteLink(*link)
	if err != nil {
		fatal(err.Error(), exitInvalidInput)
	}
	if err := space.VerifyInvite(inv, space.VerifyOptions{Now: time.Now().UnixMilli()}); err != nil {
		fatal(fmt.Sprintf("invite does not verify: %v", err), exitInvalidInput)
	}
	printJSON(inv)
}

func runFingerprint(args []string) {
	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	id := fs.String("id", "", "principal/device/space id")
	if err := fs.Parse(args); err != nil {
		fatal(err.Error(), exitInvalidInput)
	}
	if !canonical.IsKeyID(*id) {
		fatal("not a key-derived id", exitInvalidInput)
	}
	fmt.Println(canonical.Fingerprint(*id))
}

// runDemo drives the whole protocol in-process: a space root and a
// fresh member on two nodes over the mock gossip bus, invite, join,
// post, and convergence.
func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	timeout := fs.Duration("timeout", 10*time.Second, "demo timeout")
	if err := fs.Parse(args); err != nil {
		fatal(err.Error(), exitInvalidInput)
	}

	root, err := identity.NewManager()
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	genesis, err := signedGenesis(root, "demo")
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}

	cfg := config.Default()
	cfg.DataDir = os.TempDir()
	rootNode, err := node.New(node.Options{Config: cfg, Genesis: genesis, Manager: root})
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	memberNode, err := node.New(node.Options{Config: cfg, Genesis: genesis})
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := rootNode.Start(ctx); err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	defer rootNode.Stop()
	if err := memberNode.Start(ctx); err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	defer memberNode.Stop()

	now := time.Now().UnixMilli()
	inv, err := space.Issue(root, space.IssueParams{
		SpaceID:   genesis.SpaceID,
		ExpiresTS: now + time.Hour.Milliseconds(),
		Scopes:    []string{models.SpaceScope(genesis.SpaceID, models.ScopePost)},
	}, now)
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	link, err := space.EncodeInviteLink("", inv)
	if err != nil {
		fatal(err.Error(), exitRuntimeError)
	}

	if _, err := memberNode.Join(ctx, inv); err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	deadline := time.Now().Add(*timeout)
	for time.Now().Before(deadline) && !rootNode.GovernanceState().IsMember(memberNode.Identity().PrincipalID) {
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := memberNode.Post(ctx, "general", "hello from the demo"); err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	for time.Now().Before(deadline) && len(rootNode.Events("general")) == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	st := rootNode.GovernanceState()
	printJSON(map[string]any{
		"space_id":           genesis.SpaceID,
		"invite_link":        link,
		"member_id":          memberNode.Identity().PrincipalID,
		"member_admitted":    st.IsMember(memberNode.Identity().PrincipalID),
		"converged_events":   len(rootNode.Events("general")),
		"member_fingerprint": canonical.Fingerprint(memberNode.Identity().PrincipalID),
	})
}

func signedGenesis(mgr *identity.Manager, name string) (models.SpaceGenesis, error) {
	ident := mgr.GetIdentity()
	g := models.SpaceGenesis{
		V:            1,
		SpaceID:      ident.PrincipalID,
		SpaceRootPub: append([]byte(nil), ident.PrincipalPub...),
		CreatedTS:    time.Now().UnixMilli(),
		Name:         name,
	}
	sig, err := mgr.SignWithPrincipal(space.GenesisSigInput(g))
	if err != nil {
		return models.SpaceGenesis{}, err
	}
	g.Sig = sig
	return g, space.VerifyGenesis(g)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err.Error(), exitRuntimeError)
	}
	os.Exit(exitOK)
}

func fatal(msg string, code int) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: spacectl <command> [flags]

commands:
  identity-new   generate a principal with a recovery mnemonic
  space-new      generate a space root and signed genesis
  invite-decode  parse and verify an invite link
  fingerprint    human-comparable rendering of an id
  demo           run a two-peer invite/join/post/sync flow in-process`)
}
