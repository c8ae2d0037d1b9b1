package weave

// IngredientBuilder assembles the set of ingredients a database will use,
// one declared entity at a time, before the database is handed to
// application code. It replaces the jar/Setup macro-bundling the engine's
// ancestor used to assemble a "jar" of ingredients from generated code:
// since codegen is out of scope here, this is the explicit, hand-called
// equivalent — each Build* call mirrors register_ingredient (spec.md §6).
//
// Go methods cannot carry their own type parameters, so the per-kind
// declarations are package-level functions taking the builder rather than
// builder methods; IngredientBuilder itself is just a thin handle back to
// the database they're all declared against.
type IngredientBuilder struct {
	db *Database
}

// NewIngredientBuilder starts building the ingredient set for db.
func NewIngredientBuilder(db *Database) *IngredientBuilder {
	return &IngredientBuilder{db: db}
}

// Database returns the database the builder is assembling ingredients
// for, once every Build* call the application needs has been made.
func (b *IngredientBuilder) Database() *Database { return b.db }

// BuildCell declares a new input type with the builder, equivalent to
// calling NewCell(b.Database(), name, equals) directly.
func BuildCell[T any](b *IngredientBuilder, name string, equals func(a, b T) bool) *Cell[T] {
	return NewCell[T](b.db, name, equals)
}

// BuildInterned declares a new interned type with the builder, equivalent
// to calling NewInterned(b.Database(), name) directly.
func BuildInterned[V comparable](b *IngredientBuilder, name string) *Interned[V] {
	return NewInterned[V](b.db, name)
}

// BuildTrackedStruct declares a new tracked-struct type with the builder,
// equivalent to calling NewTrackedStruct(b.Database(), name, cfg) directly.
func BuildTrackedStruct(b *IngredientBuilder, name string, cfg TrackedStructConfig) *TrackedStruct {
	return NewTrackedStruct(b.db, name, cfg)
}

// BuildFunction declares a new tracked function with the builder,
// equivalent to calling NewFunction(b.Database(), name, cfg, keyedBy...)
// directly.
func BuildFunction[V any](b *IngredientBuilder, name string, cfg FunctionConfig[V], keyedBy ...Index) *Function[V] {
	return NewFunction[V](b.db, name, cfg, keyedBy...)
}
