package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fahmaliyi/assetlabel/config"
	"github.com/fahmaliyi/assetlabel/expressions"
	"github.com/fahmaliyi/assetlabel/inventory"
	"github.com/fahmaliyi/assetlabel/label"
	"github.com/fahmaliyi/assetlabel/vault"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUnlock   = 2
	ExitCorrupt  = 3
	ExitUsage    = 64
	resetConfirm = "delete"
)

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// BrowseFunc lets the user pick one item interactively. A nil item with
// a nil error means the user quit without choosing.
type BrowseFunc func(ctx context.Context, items []*inventory.Item, webURL func(*inventory.Item) string) (*inventory.Item, error)

// App is one invocation of the command line tool.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Prompter Prompter
	Stdout   io.Writer
	Stderr   io.Writer

	// KDF is the work factor for newly created vaults; nil uses the
	// vault defaults.
	KDF *vault.KDFParams

	Browse  BrowseFunc
	Options []inventory.Option
}

// NewApp wires an App to the process's standard streams.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Prompter: NewTerminalPrompter(os.Stdin, os.Stderr),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Browse:   RunBrowser,
	}
}

type options struct {
	itemType   string
	itemNum    string
	inputFile  string
	outputFile string
	password   string
	showFields bool
	query      string
	search     string
	filter     string
	limit      int
	browse     bool
	changePW   bool
	resetKey   bool
	reset      bool
}

func (a *App) flagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("assetlabel", flag.ContinueOnError)
	fs.SetOutput(a.Stderr)

	str := func(p *string, short, long, def, usage string) {
		if short != "" {
			fs.StringVar(p, short, def, usage)
		}
		fs.StringVar(p, long, def, usage)
	}
	boolean := func(p *bool, short, long, usage string) {
		if short != "" {
			fs.BoolVar(p, short, false, usage)
		}
		fs.BoolVar(p, long, false, usage)
	}

	str(&o.itemType, "t", "type", string(inventory.Assets), "item type: assets, accessories, consumables, components, licenses")
	str(&o.itemNum, "n", "item-num", "", "item id to print a label for")
	str(&o.inputFile, "i", "input-file", a.Config.TemplatePath, "ODT label template")
	str(&o.outputFile, "o", "output-file", a.Config.OutputPath, "where to write the label")
	str(&o.password, "p", "password", "", "vault password (first attempt)")
	boolean(&o.showFields, "s", "show-available-fields", "print the fields available to templates and exit")
	str(&o.query, "", "query", "", "print the result of a jq query over the item JSON and exit")
	str(&o.search, "", "search", "", "batch mode: server-side search text")
	str(&o.filter, "", "filter", "", "batch mode: keep items where this expression is true")
	fs.IntVar(&o.limit, "limit", 50, "batch mode: maximum number of items to fetch")
	boolean(&o.browse, "", "browse", "pick the item from an interactive table")
	boolean(&o.changePW, "", "change-password", "change the vault password")
	boolean(&o.resetKey, "", "reset-key", "replace the stored URL and API key")
	boolean(&o.reset, "r", "reset", "delete the stored credentials")

	fs.Usage = func() {
		fmt.Fprintln(a.Stderr, "Usage: assetlabel [flags]")
		fmt.Fprintln(a.Stderr)
		fmt.Fprintln(a.Stderr, "Generates an ODT label for a Snipe-IT item from a template.")
		fmt.Fprintln(a.Stderr)
		fs.PrintDefaults()
	}
	return fs
}

// Run executes the command line and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	var o options
	fs := a.flagSet(&o)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if fs.NArg() > 0 {
		return a.fail(ctx, usagef("unexpected argument %q", fs.Arg(0)))
	}
	return a.fail(ctx, a.run(ctx, &o))
}

func (a *App) run(ctx context.Context, o *options) error {
	itemType, err := inventory.ParseItemType(o.itemType)
	if err != nil {
		return usagef("%v", err)
	}
	if err := checkModes(o); err != nil {
		return err
	}

	v := vault.NewVault(a.Config.VaultPath(), a.KDF)
	switch {
	case o.reset:
		return a.reset(ctx, v)
	case o.changePW:
		return a.changePassword(ctx, v, o)
	case o.resetKey:
		return a.resetKey(ctx, v, o)
	}

	// Fail on a bad template before asking for a password.
	var tpl *label.Template
	if !o.showFields && o.query == "" {
		if tpl, err = label.Load(o.inputFile); err != nil {
			return err
		}
	}

	var filter *expressions.Filter
	if o.filter != "" {
		if filter, err = expressions.CompileFilter(o.filter); err != nil {
			return usagef("%v", err)
		}
	}
	var query *expressions.Query
	if o.query != "" {
		if query, err = expressions.CompileQuery(o.query); err != nil {
			return usagef("%v", err)
		}
	}

	rec, err := a.session(v, o).Open(ctx)
	if err != nil {
		return err
	}

	client, err := inventory.NewClient(rec.BaseURL, rec.APIKey, a.clientOptions()...)
	if err != nil {
		return err
	}

	switch {
	case o.search != "" || filter != nil:
		return a.batch(ctx, client, itemType, tpl, filter, o)
	case o.browse:
		item, err := a.pick(ctx, client, itemType, o)
		if err != nil || item == nil {
			return err
		}
		return a.output(ctx, client, item, tpl, query, o.showFields, o.outputFile)
	}

	id := strings.TrimSpace(o.itemNum)
	if id == "" {
		if id, err = a.Prompter.ReadLine(ctx, "Item number: "); err != nil {
			return fmt.Errorf("read item number: %w", err)
		}
		id = strings.TrimSpace(id)
	}
	item, err := client.Get(ctx, itemType, id)
	if err != nil {
		return err
	}
	return a.output(ctx, client, item, tpl, query, o.showFields, o.outputFile)
}

func checkModes(o *options) error {
	var modes []string
	if o.reset {
		modes = append(modes, "--reset")
	}
	if o.changePW {
		modes = append(modes, "--change-password")
	}
	if o.resetKey {
		modes = append(modes, "--reset-key")
	}
	if o.browse {
		modes = append(modes, "--browse")
	}
	if o.search != "" || o.filter != "" {
		modes = append(modes, "--search/--filter")
	}
	if o.itemNum != "" {
		modes = append(modes, "--item-num")
	}
	if len(modes) > 1 {
		return usagef("%s cannot be combined", strings.Join(modes, " and "))
	}
	if (o.search != "" || o.filter != "") && (o.showFields || o.query != "") {
		return usagef("--show-available-fields and --query take a single item")
	}
	if o.limit <= 0 {
		return usagef("--limit must be positive")
	}
	return nil
}

func (a *App) session(v *vault.Vault, o *options) *Session {
	s := &Session{
		Vault:       v,
		Prompter:    a.Prompter,
		Out:         a.Stderr,
		Logger:      a.Logger,
		MaxAttempts: a.Config.MaxAttempts,
		Setup: &Setup{
			Vault:    v,
			Prompter: a.Prompter,
			Out:      a.Stderr,
			Logger:   a.Logger,
		},
	}
	if o.password != "" {
		s.Password = []byte(o.password)
	}
	return s
}

func (a *App) clientOptions() []inventory.Option {
	opts := []inventory.Option{
		inventory.WithTimeout(a.Config.HTTPTimeout),
		inventory.WithLogger(a.Logger),
	}
	return append(opts, a.Options...)
}

// output prints fields or a query result, or renders the label.
func (a *App) output(ctx context.Context, client *inventory.Client, item *inventory.Item, tpl *label.Template, query *expressions.Query, showFields bool, dst string) error {
	switch {
	case showFields:
		fields := item.Fields()
		fmt.Fprintln(a.Stdout, titleStyle.Render(fmt.Sprintf("Fields available for %s %s:", item.Type, item.ID)))
		for _, k := range inventory.SortedKeys(fields) {
			fmt.Fprintf(a.Stdout, "%s: %s\n", k, fields[k])
		}
		return nil
	case query != nil:
		results, err := query.Run(ctx, item.Raw)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.Stdout)
		enc.SetIndent("", "  ")
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	return a.writeLabel(ctx, client, item, tpl, dst)
}

func (a *App) writeLabel(ctx context.Context, client *inventory.Client, item *inventory.Item, tpl *label.Template, dst string) error {
	fields := item.Fields()
	if missing := tpl.Missing(fields); len(missing) > 0 {
		printWarn(a.Stderr, fmt.Sprintf("warning: %s %s has no value for: %s", item.Type, item.ID, strings.Join(missing, ", ")))
	}
	data, err := tpl.Render(fields, client.WebURL(item.Type, item.ID))
	if err != nil {
		return err
	}
	if err := label.WriteFile(dst, data); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "label written", "type", item.Type, "id", item.ID, "path", dst)
	printOK(a.Stdout, fmt.Sprintf("Label for %s written to %s", item.Name(), dst))
	return nil
}

func (a *App) batch(ctx context.Context, client *inventory.Client, t inventory.ItemType, tpl *label.Template, filter *expressions.Filter, o *options) error {
	items, total, err := client.List(ctx, t, inventory.ListOptions{Search: o.search, Limit: o.limit})
	if err != nil {
		return err
	}
	a.Logger.DebugContext(ctx, "batch listing", "type", t, "returned", len(items), "total", total)

	written := 0
	for _, item := range items {
		if filter != nil {
			ok, err := filter.Match(item.Values())
			if err != nil {
				return fmt.Errorf("%s %s: %w", t, item.ID, err)
			}
			if !ok {
				continue
			}
		}
		if item.ID == "" {
			// Without an id every such item would share one output path.
			printWarn(a.Stderr, fmt.Sprintf("warning: skipping %s %q: no id", t, item.Name()))
			continue
		}
		if err := a.writeLabel(ctx, client, item, tpl, batchPath(o.outputFile, item.ID)); err != nil {
			return err
		}
		written++
	}
	if total > len(items) {
		printWarn(a.Stderr, fmt.Sprintf("warning: %d of %d matching items fetched, raise --limit for more", len(items), total))
	}
	fmt.Fprintf(a.Stdout, "%d label(s) written\n", written)
	return nil
}

// batchPath derives "<stem>-<id><ext>" from the output path.
func batchPath(output, id string) string {
	ext := filepath.Ext(output)
	if ext == "" {
		ext = ".odt"
	}
	return strings.TrimSuffix(output, filepath.Ext(output)) + "-" + id + ext
}

func (a *App) pick(ctx context.Context, client *inventory.Client, t inventory.ItemType, o *options) (*inventory.Item, error) {
	items, _, err := client.List(ctx, t, inventory.ListOptions{Limit: o.limit})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no %s found", t)
	}
	item, err := a.Browse(ctx, items, func(it *inventory.Item) string {
		return client.WebURL(it.Type, it.ID)
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		fmt.Fprintln(a.Stderr, "No item selected.")
	}
	return item, nil
}

func (a *App) reset(ctx context.Context, v *vault.Vault) error {
	line, err := a.Prompter.ReadLine(ctx, fmt.Sprintf("This deletes the stored URL and API key in %s.\nType %q to confirm: ", v.Filename, resetConfirm))
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != resetConfirm {
		fmt.Fprintln(a.Stderr, "Reset cancelled.")
		return nil
	}
	err = v.Remove()
	if errors.Is(err, vault.ErrVaultNotFound) {
		fmt.Fprintln(a.Stderr, "Nothing to reset.")
		return nil
	}
	if err != nil {
		return err
	}
	printOK(a.Stdout, "Stored credentials deleted.")
	return nil
}

func (a *App) changePassword(ctx context.Context, v *vault.Vault, o *options) error {
	s := a.session(v, o)
	s.Setup = nil
	_, oldPW, err := s.unlock(ctx)
	if err != nil {
		return err
	}
	defer vault.Zero(oldPW)

	newPW, err := promptNewPassword(ctx, a.Prompter, a.Stderr)
	if err != nil {
		return err
	}
	defer vault.Zero(newPW)

	if err := v.ChangePassword(oldPW, newPW); err != nil {
		return err
	}
	printOK(a.Stdout, "Vault password changed.")
	return nil
}

func (a *App) resetKey(ctx context.Context, v *vault.Vault, o *options) error {
	s := a.session(v, o)
	s.Setup = nil
	current, oldPW, err := s.unlock(ctx)
	vault.Zero(oldPW)
	if err != nil {
		return err
	}

	rec, err := promptRecord(ctx, a.Prompter, a.Stderr, current)
	if err != nil {
		return err
	}
	pw, err := promptNewPassword(ctx, a.Prompter, a.Stderr)
	if err != nil {
		return err
	}
	defer vault.Zero(pw)

	if err := v.ResetCredentials(rec, pw); err != nil {
		return err
	}
	printOK(a.Stdout, "Stored credentials replaced.")
	return nil
}

// fail reports err and maps it to an exit code.
func (a *App) fail(ctx context.Context, err error) int {
	if err == nil {
		return ExitOK
	}
	a.Logger.DebugContext(ctx, "command failed", "error", err)

	var ue *usageError
	var apiErr *inventory.APIError
	switch {
	case errors.As(err, &ue):
		printErr(a.Stderr, "Error: "+ue.msg)
		fmt.Fprintln(a.Stderr, "Run with -h for usage.")
		return ExitUsage
	case errors.Is(err, ErrTooManyAttempts):
		printErr(a.Stderr, "Error: "+err.Error())
		return ExitUnlock
	case errors.Is(err, vault.ErrCorrupt):
		printErr(a.Stderr, fmt.Sprintf("Error: the vault file %s is malformed.", a.Config.VaultPath()))
		fmt.Fprintln(a.Stderr, "Run with --reset, or delete the file, and set up again.")
		return ExitCorrupt
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		printErr(a.Stderr, "Error: the server rejected the API key. Run with --reset-key to replace it.")
		return ExitFailure
	default:
		printErr(a.Stderr, "Error: "+err.Error())
		return ExitFailure
	}
}
