package hclcfg

import (
	"github.com/hashicorp/hcl/v2"
)

// argumentsBlock captures the raw body of an `arguments` block. It is
// decoded into the handler's input struct at execution time, not here.
type argumentsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// stageBlock is one `stage` sub-block of a stage asset.
type stageBlock struct {
	Name    string   `hcl:"name,label"`
	Command []string `hcl:"command"`
}

// assetBlock is an `asset` block from a pipeline file.
//
//	asset "pure" "orders" {
//	  handler    = "csv_source"
//	  depends_on = ["raw_orders"]
//	  arguments { path = "orders.csv" }
//	}
type assetBlock struct {
	Kind      string            `hcl:"kind,label"`
	Name      string            `hcl:"name,label"`
	DependsOn []string          `hcl:"depends_on,optional"`
	Entity    string            `hcl:"entity,optional"`
	Snapshot  bool              `hcl:"snapshot,optional"`
	Handler   string            `hcl:"handler,optional"`
	Arguments *argumentsBlock   `hcl:"arguments,block"`
	Workdir   string            `hcl:"workdir,optional"`
	Env       map[string]string `hcl:"env,optional"`
	Stages    []*stageBlock     `hcl:"stage,block"`
}

// jobBlock is a `job` block. An absent schedule makes the job manual-only.
type jobBlock struct {
	Name     string   `hcl:"name,label"`
	Assets   []string `hcl:"assets"`
	Schedule string   `hcl:"schedule,optional"`
}

// fileConfig is the top-level structure of one pipeline file.
type fileConfig struct {
	Assets []*assetBlock `hcl:"asset,block"`
	Jobs   []*jobBlock   `hcl:"job,block"`
}
