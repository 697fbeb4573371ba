package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keymanager"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keystore"
)

// storeFlags are shared by every subcommand: a local key directory, or Mongo
// when -mongo is set.
type storeFlags struct {
	keyDir   string
	mongoURI string
	mongoDB  string
	coll     string
}

func (sf *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&sf.keyDir, "keys", "./keys", "key metadata directory")
	fs.StringVar(&sf.mongoURI, "mongo", "", "MongoDB URI (optional)")
	fs.StringVar(&sf.mongoDB, "db", "inkwell", "Mongo database name")
	fs.StringVar(&sf.coll, "coll", "project_keys", "Mongo collection name")
}

func (sf *storeFlags) build(ctx context.Context) (keystore.Store, error) {
	if sf.mongoURI == "" {
		return keystore.NewFileStore(sf.keyDir), nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return keystore.NewMongoStore(cctx, sf.mongoURI, sf.mongoDB, sf.coll)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx := context.Background()
	var sf storeFlags

	switch os.Args[1] {
	case "init":
		fs := flag.NewFlagSet("init", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		pass := fs.String("pass", "", "passphrase (prompted when empty)")
		interactive := fs.Bool("interactive", false, "use the lighter KDF preset")
		out := fs.String("out", "", "write the recovery kit to this file instead of stdout")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdInit(ctx, &sf, *project, *pass, *interactive, *out))

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdStatus(ctx, &sf, *project))

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		sf.register(fs)
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdList(ctx, &sf))

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		pass := fs.String("pass", "", "passphrase (prompted when empty)")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdVerify(ctx, &sf, *project, *pass))

	case "change-pass":
		fs := flag.NewFlagSet("change-pass", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdChangePass(ctx, &sf, *project))

	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		out := fs.String("out", "", "write the recovery kit to this file instead of stdout")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdExport(ctx, &sf, *project, *out))

	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		sf.register(fs)
		in := fs.String("in", "", "recovery kit file")
		pass := fs.String("pass", "", "passphrase (prompted when empty)")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdImport(ctx, &sf, *in, *pass))

	case "disable":
		fs := flag.NewFlagSet("disable", flag.ExitOnError)
		sf.register(fs)
		project := fs.String("project", "", "project id")
		yes := fs.Bool("yes", false, "skip the confirmation prompt")
		_ = fs.Parse(os.Args[2:])
		dieIf(cmdDisable(ctx, &sf, *project, *yes))

	default:
		usage()
	}
}

func usage() {
	fmt.Print(`inkwellctl commands:

  init        --project ID [--pass P] [--interactive] [--out kit.json]
  status      --project ID
  list
  verify      --project ID [--pass P]
  change-pass --project ID
  export      --project ID [--out kit.json]
  import      --in kit.json [--pass P]
  disable     --project ID [--yes]

Store selection (all commands): --keys DIR for the local file store, or
--mongo URI --db inkwell --coll project_keys for Mongo.

Examples:
  inkwellctl init --project novel-draft
  inkwellctl export --project novel-draft --out novel-draft.kit.json
  inkwellctl import --in novel-draft.kit.json
`)
}

func newManager(ctx context.Context, sf *storeFlags) (*keymanager.Manager, error) {
	store, err := sf.build(ctx)
	if err != nil {
		return nil, err
	}
	return keymanager.New(crypto.NewService(), store, zerolog.Nop(), nil), nil
}

func cmdInit(ctx context.Context, sf *storeFlags, project, pass string, interactive bool, out string) error {
	if project == "" {
		return errors.New("--project required")
	}
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	passphrase, err := passphraseOrPrompt(pass, true)
	if err != nil {
		return err
	}

	kit, err := m.InitializeProject(ctx, keymanager.InitializeOptions{
		ProjectID:   project,
		Passphrase:  passphrase,
		Interactive: interactive,
	})
	m.LockAllProjects()
	if err != nil {
		return err
	}
	fmt.Println("Project initialized:", project)
	fmt.Println("Store the recovery kit somewhere safe; with the passphrase it restores access on a new device.")
	return writeKit(kit, out)
}

func cmdStatus(ctx context.Context, sf *storeFlags, project string) error {
	if project == "" {
		return errors.New("--project required")
	}
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	enabled, err := m.IsE2EEEnabled(ctx, project)
	if err != nil {
		return err
	}
	if enabled {
		fmt.Printf("%s: e2ee enabled\n", project)
	} else {
		fmt.Printf("%s: no key metadata\n", project)
	}
	return nil
}

func cmdList(ctx context.Context, sf *storeFlags) error {
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	ids, err := m.ListE2EEProjects(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no e2ee projects")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// cmdVerify attempts an unlock and reports the outcome without leaving
// anything cached.
func cmdVerify(ctx context.Context, sf *storeFlags, project, pass string) error {
	if project == "" {
		return errors.New("--project required")
	}
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	passphrase, err := passphraseOrPrompt(pass, false)
	if err != nil {
		return err
	}

	err = m.UnlockProject(ctx, project, passphrase)
	m.LockAllProjects()
	if err != nil {
		return err
	}
	fmt.Println("Passphrase OK for", project)
	return nil
}

func cmdChangePass(ctx context.Context, sf *storeFlags, project string) error {
	if project == "" {
		return errors.New("--project required")
	}
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}

	oldPass, err := promptSecret("Current passphrase: ")
	if err != nil {
		return err
	}
	newPass, err := promptSecretConfirmed("New passphrase: ", "Confirm new passphrase: ")
	if err != nil {
		return err
	}

	kit, err := m.ChangePassphrase(ctx, project, oldPass, newPass)
	m.LockAllProjects()
	if err != nil {
		return err
	}
	fmt.Println("Passphrase changed for", project)
	fmt.Println("Previous recovery kits no longer work; export a fresh one:")
	return writeKit(kit, "")
}

func cmdExport(ctx context.Context, sf *storeFlags, project, out string) error {
	if project == "" {
		return errors.New("--project required")
	}
	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	kit, err := m.ExportRecoveryKit(ctx, project)
	if err != nil {
		return err
	}
	return writeKit(kit, out)
}

func cmdImport(ctx context.Context, sf *storeFlags, in, pass string) error {
	if in == "" {
		return errors.New("--in required")
	}
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var kit crypto.RecoveryKit
	if err := json.Unmarshal(b, &kit); err != nil {
		return fmt.Errorf("parse kit: %w", err)
	}

	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	passphrase, err := passphraseOrPrompt(pass, false)
	if err != nil {
		return err
	}

	err = m.ImportRecoveryKit(ctx, kit, passphrase)
	m.LockAllProjects()
	if err != nil {
		return err
	}
	fmt.Println("Recovery kit imported for", kit.ProjectID)
	return nil
}

func cmdDisable(ctx context.Context, sf *storeFlags, project string, yes bool) error {
	if project == "" {
		return errors.New("--project required")
	}
	if !yes {
		fmt.Printf("Disabling e2ee deletes the key for %s. Content already encrypted stays unreadable forever.\n", project)
		fmt.Print("Type the project id to confirm: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		if trimNewline(line) != project {
			return errors.New("confirmation did not match, aborting")
		}
	}

	m, err := newManager(ctx, sf)
	if err != nil {
		return err
	}
	if err := m.DisableE2EE(ctx, project); err != nil {
		return err
	}
	fmt.Println("E2EE disabled for", project)
	return nil
}

func writeKit(kit crypto.RecoveryKit, out string) error {
	b, err := json.MarshalIndent(kit, "", "  ")
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Println(string(b))
		return nil
	}
	if err := os.WriteFile(out, append(b, '\n'), 0600); err != nil {
		return err
	}
	fmt.Println("Recovery kit written to", out)
	return nil
}

func passphraseOrPrompt(pass string, confirm bool) (string, error) {
	if pass != "" {
		return pass, nil
	}
	if confirm {
		return promptSecretConfirmed("Passphrase: ", "Confirm passphrase: ")
	}
	return promptSecret("Passphrase: ")
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	// Piped input, as in scripts and tests.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
}

func promptSecretConfirmed(prompt, confirmPrompt string) (string, error) {
	p1, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	p2, err := promptSecret(confirmPrompt)
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passphrases do not match")
	}
	if p1 == "" {
		return "", errors.New("empty passphrase")
	}
	return p1, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
