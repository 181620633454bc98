package runner

import (
	"context"

	"github.com/ChuLiYu/zerog-bots/internal/campaign"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/social"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ModuleName 流程中的模組名稱
const ModuleName = "puzzlemania"

// Module 以 module.Module 包裝 Runner
type Module struct {
	Hooks Hooks

	// NewBackend 可替換的後端建構（測試用）
	NewBackend func(env *module.Env) campaign.Backend
}

// NewModule 建立 puzzlemania 模組
func NewModule(hooks Hooks) *Module {
	return &Module{Hooks: hooks}
}

// Name 實作 module.Module
func (m *Module) Name() string { return ModuleName }

// Run 每次呼叫建立新的 campaign 會話與 Runner
func (m *Module) Run(ctx context.Context, env *module.Env) types.Outcome {
	var backend campaign.Backend
	if m.NewBackend != nil {
		backend = m.NewBackend(env)
	} else {
		backend = campaign.New(env.HTTP, env.Config.Campaign, env.Wallet)
	}

	var linker Linker
	if env.Social != nil && env.Wallet.TwitterToken != "" {
		linker = social.NewLinker(env.Social, env.Wallet.TwitterToken)
	}

	if err := New(env, backend, linker, m.Hooks).Run(ctx); err != nil {
		return types.Failure(err.Error())
	}
	return types.Success("")
}
