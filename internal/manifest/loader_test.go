package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func parseOne(t *testing.T, src string) (*Model, error) {
	t.Helper()
	return ParseSources(context.Background(), map[string]string{"inline.hcl": src})
}

func TestManifestParsing(t *testing.T) {
	t.Parallel()

	t.Run("Success: Parses a full component definition", func(t *testing.T) {
		t.Parallel()
		src := `
		component "test:index:Widget" {
			description = "A widget."

			lifecycle {
				construct = "OnConstructWidget"
			}

			input "name" {
				type        = string
				description = "Display name."
			}

			input "seed" {
				type   = string
				secret = true
			}

			input "replicas" {
				type     = number
				default  = 3
				optional = true
			}

			output "id" {
				type = string
			}

			output "token" {
				type   = string
				secret = true
			}

			method "resize" {
				handler = "OnResizeWidget"
				atomic  = true

				input "to" {
					type = number
				}

				output "previous" {
					type = number
				}
			}
		}`

		model, err := parseOne(t, src)
		require.NoError(t, err)
		require.Len(t, model.Components, 1)

		comp, ok := model.Components["test:index:Widget"]
		require.True(t, ok)
		require.Equal(t, "A widget.", comp.Description)
		require.Equal(t, "OnConstructWidget", comp.ConstructHandler)

		require.Len(t, comp.Inputs, 3)
		require.True(t, comp.Inputs["name"].Type.Equals(cty.String))
		require.Equal(t, "Display name.", comp.Inputs["name"].Description)
		require.False(t, comp.Inputs["name"].Optional)

		require.True(t, comp.Inputs["seed"].Secret)

		replicas := comp.Inputs["replicas"]
		require.True(t, replicas.Optional)
		require.NotNil(t, replicas.Default)
		require.True(t, replicas.Default.RawEquals(cty.NumberIntVal(3)))

		require.Len(t, comp.Outputs, 2)
		require.False(t, comp.Outputs["id"].Secret)
		require.True(t, comp.Outputs["token"].Secret)

		require.Len(t, comp.Methods, 1)
		m := comp.Methods["resize"]
		require.Equal(t, "OnResizeWidget", m.Handler)
		require.True(t, m.Atomic)
		require.True(t, m.Inputs["to"].Type.Equals(cty.Number))
		require.True(t, m.Outputs["previous"].Type.Equals(cty.Number))
	})

	t.Run("Success: Parses collection and any types", func(t *testing.T) {
		t.Parallel()
		src := `
		component "test:index:Typed" {
			lifecycle {
				construct = "OnConstructTyped"
			}

			input "tags"  { type = map(string) }
			input "ports" { type = list(number) }
			input "flags" { type = set(bool) }
			input "blob"  { type = any }
		}`

		model, err := parseOne(t, src)
		require.NoError(t, err)
		comp := model.Components["test:index:Typed"]
		require.True(t, comp.Inputs["tags"].Type.Equals(cty.Map(cty.String)))
		require.True(t, comp.Inputs["ports"].Type.Equals(cty.List(cty.Number)))
		require.True(t, comp.Inputs["flags"].Type.Equals(cty.Set(cty.Bool)))
		require.True(t, comp.Inputs["blob"].Type.Equals(cty.DynamicPseudoType))
	})

	t.Run("Success: Defaults are converted to the declared type", func(t *testing.T) {
		t.Parallel()
		src := `
		component "test:index:Defaulted" {
			lifecycle {
				construct = "OnConstructDefaulted"
			}

			input "port" {
				type     = string
				default  = 8080
				optional = true
			}
		}`

		model, err := parseOne(t, src)
		require.NoError(t, err)
		port := model.Components["test:index:Defaulted"].Inputs["port"]
		require.NotNil(t, port.Default)
		require.True(t, port.Default.RawEquals(cty.StringVal("8080")))
	})

	t.Run("Success: Components merge across files", func(t *testing.T) {
		t.Parallel()
		model, err := ParseSources(context.Background(), map[string]string{
			"a.hcl": `
			component "test:index:A" {
				lifecycle { construct = "OnA" }
			}`,
			"b.hcl": `
			component "test:index:B" {
				lifecycle { construct = "OnB" }
			}`,
		})
		require.NoError(t, err)
		require.Len(t, model.Components, 2)
	})

	t.Run("Failure: Invalid component definitions", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			name        string
			src         string
			errContains string
		}{
			{
				name: "missing lifecycle block",
				src: `
				component "test:index:Bad" {
					input "a" { type = string }
				}`,
				errContains: "lifecycle block with a construct handler is required",
			},
			{
				name: "empty construct handler",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "" }
				}`,
				errContains: "lifecycle block with a construct handler is required",
			},
			{
				name: "unsupported type keyword",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "OnBad" }
					input "a" { type = widget }
				}`,
				errContains: `unknown primitive type "widget"`,
			},
			{
				name: "duplicate input",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "OnBad" }
					input "a" { type = string }
					input "a" { type = number }
				}`,
				errContains: `duplicate input "a"`,
			},
			{
				name: "duplicate method",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "OnBad" }
					method "m" { handler = "H" }
					method "m" { handler = "H" }
				}`,
				errContains: `duplicate method "m"`,
			},
			{
				name: "default that cannot convert to the declared type",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "OnBad" }
					input "replicas" {
						type    = number
						default = true
					}
				}`,
				errContains: `input "replicas": invalid default`,
			},
			{
				name: "method without handler",
				src: `
				component "test:index:Bad" {
					lifecycle { construct = "OnBad" }
					method "m" {}
				}`,
				errContains: "missing its handler",
			},
		}

		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				_, err := parseOne(t, tc.src)
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errContains)
			})
		}
	})

	t.Run("Failure: Duplicate component across files", func(t *testing.T) {
		t.Parallel()
		// Deterministic: the second definition lives in the same file.
		_, err := parseOne(t, `
		component "test:index:Dup" {
			lifecycle { construct = "OnDup" }
		}
		component "test:index:Dup" {
			lifecycle { construct = "OnDup" }
		}`)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already defined")
	})
}
