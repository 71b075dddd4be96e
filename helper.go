// FILE: lixenwraith/conftree/helper.go
package conftree

// flattenLeaves maps the dot-notation path of every scalar leaf under n to
// its value. Empty collections are reported as leaves with their raw value.
func flattenLeaves(n *Node) map[string]any {
	flat := make(map[string]any)
	if n == nil {
		return flat
	}
	base := len(n.Path())
	_ = n.Walk(func(c *Node) error {
		if (c.IsList() || c.IsMap()) && !c.Empty() {
			return nil
		}
		if c.IsNull() {
			return nil
		}
		flat[Path(c.Path()[base:]).String()] = c.Raw()
		return nil
	})
	return flat
}
