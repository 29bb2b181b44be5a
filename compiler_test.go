package queryspec

import "testing"

type account struct {
	ID       string   `qs:"field=id,column=id,pk,sortable"`
	Name     string   `qs:"field=name,column=full_name,sortable"`
	Balance  float64  `qs:"field=balance,column=balance,sortable"`
	Tier     string   `qs:"field=tier,column=tier,kind=enum,enum=Gold|Silver|Bronze"`
	Owner    *ownerDTO `qs:"field=owner,rel=toOne,path=owner,column=owner_id"`
}

func (account) TableName() string { return "accounts" }

type ownerDTO struct {
	ID    string `qs:"field=id,column=id,pk"`
	Email string `qs:"field=email,column=email,sortable"`
}

func (ownerDTO) TableName() string { return "owners" }

func TestCompile_SimpleEquality(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("name", OpEqual, "Acme")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cq.Where != `"t"."full_name" = $1` {
		t.Errorf("unexpected WHERE: %s", cq.Where)
	}
	if len(cq.Args) != 1 || cq.Args[0] != "Acme" {
		t.Errorf("unexpected args: %v", cq.Args)
	}
	// Mandatory PK tiebreak appended even with no caller sort.
	if len(cq.OrderBy) != 1 || cq.OrderBy[0].Column != "id" {
		t.Fatalf("expected mandatory PK tiebreak, got %+v", cq.OrderBy)
	}
}

func TestCompile_PKTiebreak_NotDuplicated(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("name", OpEqual, "Acme")
	b.OrderBy("id", SortDesc)
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cq.OrderBy) != 1 {
		t.Fatalf("expected the caller's own id sort to absorb the PK tiebreak, got %+v", cq.OrderBy)
	}
	if cq.OrderBy[0].Direction != SortDesc {
		t.Errorf("expected the caller's explicit direction to survive, got %q", cq.OrderBy[0].Direction)
	}
}

func TestCompile_UnknownField(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("doesNotExist", OpEqual, "x")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Compile[account](cond); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestCompile_UnsupportedOperatorForField(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("balance", OpContains, "5")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Compile[account](cond); err == nil {
		t.Fatal("expected an error: CONTAINS is not supported on a numeric field")
	}
}

func TestCompile_SortOnUnsortableField(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("name", OpEqual, "Acme")
	b.OrderBy("tier", SortAsc)
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Compile[account](cond); err == nil {
		t.Fatal("expected an error sorting on a non-sortable field")
	}
}

func TestCompile_NestedGroupParenthesization(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().
		Where("balance", OpGreaterThan, 100).
		And().
		Group(func(g *GroupBuilder[account]) {
			g.Where("tier", OpEqual, "Gold").
				Or().
				Where("tier", OpEqual, "Silver")
		})
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `("t"."balance" > $1 AND ("t"."tier" = $2 OR "t"."tier" = $3))`
	if cq.Where != want {
		t.Errorf("unexpected WHERE.\nwant: %s\ngot:  %s", want, cq.Where)
	}
}

func TestCompile_RelatedFieldAddsJoin(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("owner.email", OpEqual, "a@example.com")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cq.Joins) != 1 {
		t.Fatalf("expected 1 join for owner.email, got %d", len(cq.Joins))
	}
	j := cq.Joins[0]
	if j.Table != "owners" || j.ParentColumn != "owner_id" {
		t.Errorf("unexpected join: %+v", j)
	}
}

func TestCompile_FetchToOneField(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("name", OpEqual, "Acme")
	b.Fetch("owner")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cq.FetchJoins) != 1 || cq.FetchJoins[0].Table != "owners" {
		t.Fatalf("expected owner to be eagerly fetched, got %+v", cq.FetchJoins)
	}
}

func TestCompile_Between(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().WhereIn("balance", OpBetween, []any{10, 100})
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cq.Where != `"t"."balance" BETWEEN $1 AND $2` {
		t.Errorf("unexpected WHERE: %s", cq.Where)
	}
}

func TestCompile_BetweenRequiresExactlyTwoValues(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().WhereIn("balance", OpBetween, []any{10})
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Compile[account](cond); err == nil {
		t.Fatal("expected an error for a BETWEEN with only one value")
	}
}

func TestCompile_NotStartsWithAndNotEndsWith(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().
		Where("name", OpNotStartsWith, "Acme").
		And().
		Where("name", OpNotEndsWith, "Corp")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cq, err := Compile[account](cond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `("t"."full_name" NOT ILIKE $1 AND "t"."full_name" NOT ILIKE $2)`
	if cq.Where != want {
		t.Errorf("unexpected WHERE.\nwant: %s\ngot:  %s", want, cq.Where)
	}
}

func TestCompile_InvalidEnumValue(t *testing.T) {
	b := NewBuilder[account]()
	b.Root().Where("tier", OpEqual, "Platinum")
	cond, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Compile[account](cond); err == nil {
		t.Fatal("expected an error for a value outside the declared enum set")
	}
}
