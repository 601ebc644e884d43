// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// LuaTool runs a sandboxed Lua script as an internal tool.
//
// The script is a chunk returning a table with a run method, or defining a global
// run function. run receives {query=..., top_k=..., filters={...}} and returns an
// array of {title=..., content=..., source=..., score=...}. The script can call
// router.search(query, k) to reach the retriever and router.log(msg) to log.
type LuaTool struct {
	name      string
	proto     *lua.FunctionProto
	retriever Retriever
	pool      sync.Pool
}

// NewLuaTool compiles script. script is inline source, or a path when it ends in ".lua".
func NewLuaTool(name, description, script string, retriever Retriever) (*Tool, error) {
	src := script
	if strings.HasSuffix(strings.TrimSpace(script), ".lua") {
		data, err := os.ReadFile(strings.TrimSpace(script))
		if err != nil {
			return nil, fmt.Errorf("failed to read lua tool %s: %w", name, err)
		}
		src = string(data)
	}

	lt := &LuaTool{name: name, retriever: retriever}
	lt.pool.New = func() any { return lt.newState() }

	L := lt.getState()
	defer lt.putState(L)
	fn, err := L.LoadString(src)
	if err != nil {
		return nil, fmt.Errorf("failed to compile lua tool %s: %w", name, err)
	}
	lt.proto = fn.Proto

	return &Tool{Name: name, Description: description, Kind: KindInternal, Run: lt.Run}, nil
}

// newState builds a state with only the safe standard libraries.
func (lt *LuaTool) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	osTbl := L.NewTable()
	L.SetField(osTbl, "time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.SetField(osTbl, "date", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(time.Now().UTC().Format(time.RFC3339)))
		return 1
	}))
	L.SetGlobal("os", osTbl)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	lt.registerRouterModule(L)
	return L
}

func (lt *LuaTool) registerRouterModule(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "log", L.NewFunction(func(L *lua.LState) int {
		log.WithField("tool", lt.name).Info(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "search", L.NewFunction(func(L *lua.LState) int {
		if lt.retriever == nil {
			L.RaiseError("no retriever configured")
			return 0
		}
		query := L.CheckString(1)
		k := L.OptInt(2, defaultTopK)
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		items, err := lt.retriever.VectorSearch(ctx, query, k)
		if err != nil {
			L.RaiseError("search failed: %v", err)
			return 0
		}
		L.Push(itemsToLua(L, items))
		return 1
	}))
	L.SetGlobal("router", mod)
}

func (lt *LuaTool) getState() *lua.LState { return lt.pool.Get().(*lua.LState) }

func (lt *LuaTool) putState(L *lua.LState) {
	L.SetTop(0)
	L.RemoveContext()
	lt.pool.Put(L)
}

// Run executes the script's run function.
func (lt *LuaTool) Run(ctx context.Context, args Args) ([]Item, error) {
	L := lt.getState()
	defer lt.putState(L)
	L.SetContext(ctx)

	L.Push(L.NewFunctionFromProto(lt.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, PermanentError(lt.name, fmt.Errorf("load script: %w", err))
	}
	module := L.Get(-1)
	L.Pop(1)

	var fn lua.LValue
	if module.Type() == lua.LTTable {
		fn = L.GetField(module, "run")
	} else {
		fn = L.GetGlobal("run")
	}
	if fn.Type() != lua.LTFunction {
		return nil, PermanentError(lt.name, fmt.Errorf("script does not define run"))
	}

	argTbl := L.NewTable()
	L.SetField(argTbl, "query", lua.LString(args.Query))
	L.SetField(argTbl, "top_k", lua.LNumber(withTopK(args)))
	filters := L.NewTable()
	for k, v := range args.Filters {
		L.SetField(filters, k, lua.LString(v))
	}
	L.SetField(argTbl, "filters", filters)

	L.Push(fn)
	nArgs := 1
	if module.Type() == lua.LTTable {
		L.Push(module)
		nArgs = 2
	}
	L.Push(argTbl)
	if err := L.PCall(nArgs, 1, nil); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, PermanentError(lt.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	return luaToItems(tbl), nil
}

func itemsToLua(L *lua.LState, items []Item) *lua.LTable {
	arr := L.NewTable()
	for i, it := range items {
		t := L.NewTable()
		L.SetField(t, "id", lua.LString(it.ID))
		L.SetField(t, "title", lua.LString(it.Title))
		L.SetField(t, "content", lua.LString(it.Content))
		L.SetField(t, "source", lua.LString(it.Source))
		L.SetField(t, "score", lua.LNumber(it.Score))
		L.RawSetInt(arr, i+1, t)
	}
	return arr
}

func luaToItems(tbl *lua.LTable) []Item {
	var items []Item
	tbl.ForEach(func(_, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		it := Item{
			ID:      lua.LVAsString(row.RawGetString("id")),
			Title:   lua.LVAsString(row.RawGetString("title")),
			Content: lua.LVAsString(row.RawGetString("content")),
			Source:  lua.LVAsString(row.RawGetString("source")),
			Score:   float64(lua.LVAsNumber(row.RawGetString("score"))),
		}
		if it.Content != "" {
			items = append(items, it)
		}
	})
	return items
}
