package model

// Contact is a registrant, admin, tech, or billing contact.
type Contact struct {
	ResourceBase

	Name  string
	Org   string
	Email string
	Phone string
}

func (c *Contact) Base() *ResourceBase { return &c.ResourceBase }
func (c *Contact) ResourceKind() Kind  { return KindContact }

func (c *Contact) Clone() Resource {
	out := *c
	out.ResourceBase = c.ResourceBase.cloneBase()
	return &out
}

func (c *Contact) isCheckable()    {}
func (c *Contact) isTransferable() {}
func (c *Contact) isDeletable()    {}
func (c *Contact) isUpdatable()    {}
