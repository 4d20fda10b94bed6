package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

var (
	genProjectID string
	genName      string
	genStack     string
	genModel     string
	genSubdomain string
	genDeploy    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a project from a prompt",
	Long: `Create a generation request and process it immediately.

The project is created when it does not exist yet; --stack, --model and
--subdomain only apply to new projects.

Example:
  r3kt generate --project coffee --stack "Next.js + Tailwind" --model gpt-4o "A blog about coffee"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genProjectID, "project", "p", "", "project id (generated when empty)")
	generateCmd.Flags().StringVar(&genName, "name", "", "project name for a new project")
	generateCmd.Flags().StringVar(&genStack, "stack", "", "stack setting, e.g. \"Next.js\" or \"Flask\"")
	generateCmd.Flags().StringVar(&genModel, "model", "", "preferred model, e.g. gpt-4o")
	generateCmd.Flags().StringVar(&genSubdomain, "subdomain", "", "routable subdomain for a new project")
	generateCmd.Flags().BoolVar(&genDeploy, "deploy", false, "start a preview when generation succeeds")
	rootCmd.AddCommand(generateCmd)
}

// generateOutput is what the generate command prints.
type generateOutput struct {
	Request   *types.GenerationRequest `json:"request"`
	Container *types.Container         `json:"container,omitempty"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return errors.New("prompt must not be empty")
	}

	project, err := ensureProject(ctx, a.store, time.Now().UTC())
	if err != nil {
		return err
	}

	req := &types.GenerationRequest{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Prompt:     prompt,
		Status:     types.RequestPending,
		AutoDeploy: genDeploy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveGenerationRequest(ctx, req); err != nil {
		return fmt.Errorf("save generation request: %w", err)
	}
	if err := a.orchestrator.Process(ctx, req.ID); err != nil {
		return err
	}

	out := generateOutput{}
	if out.Request, err = a.store.GetGenerationRequest(ctx, req.ID); err != nil {
		return err
	}
	if genDeploy {
		if c, err := a.store.ActiveContainer(ctx, project.ID); err == nil {
			out.Container = c
		}
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.Request.Status == types.RequestFailed && out.Request.Result != nil {
		return fmt.Errorf("generation failed: %s", out.Request.Result.Error)
	}
	return nil
}

// ensureProject loads the project named by --project or creates it.
func ensureProject(ctx context.Context, st store.Store, now time.Time) (*types.Project, error) {
	if genProjectID != "" {
		p, err := st.GetProject(ctx, genProjectID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load project: %w", err)
		}
	}

	id := genProjectID
	if id == "" {
		id = uuid.NewString()
	}
	name := genName
	if name == "" {
		name = id
	}
	p := &types.Project{
		ID:        id,
		Name:      name,
		Status:    types.ProjectDraft,
		Subdomain: genSubdomain,
		Settings: types.ProjectSettings{
			Stack:          genStack,
			PreferredModel: genModel,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}
