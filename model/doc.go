// Package model defines the provider-agnostic abstractions for talking to
// language models inside codepipe.
//
// A Model turns a Request (instructions, role based contents and tool
// definitions) into a stream of Responses. Providers live in sub-packages
// (model/openai, model/anthropic) and are looked up by reference strings of
// the form "provider:model" through a Registry, so workers never depend on a
// vendor SDK directly. MockModel and FuncModel serve tests and demos.
package model
