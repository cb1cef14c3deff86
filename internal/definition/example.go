package definition

// exampleYAML is the three-way sum model: C = A + B, solvable for any one
// of the three.
const exampleYAML = `
version: 1
model:
  name: abc
  description: C = A + B, solved for whichever property was written least recently
properties:
  - { name: A, initial: 1 }
  - { name: B, initial: 2 }
  - { name: C, initial: 3 }
constraints:
  - name: ABCConstraint
    importance: 228
    methods:
      - { in: [A, B], out: [C], set: { C: "A + B" } }
      - { in: [A, C], out: [B], set: { B: "C - A" } }
      - { in: [B, C], out: [A], set: { A: "C - B" } }
`

// Example returns the built-in A/B/C definition.
func Example() *Definition {
	def, err := Parse([]byte(exampleYAML), "yaml")
	if err != nil {
		panic("definition: built-in example is invalid: " + err.Error())
	}
	return def
}
